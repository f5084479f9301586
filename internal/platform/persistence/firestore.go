// Package persistence contains Firestore-backed implementations of the
// fabric's store collaborators.
package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

const (
	usersCollection         = "users"
	notificationsCollection = "notifications"
	endpointsCollection     = "push-endpoints"
	messagesCollection      = "direct-messages"
)

// storedMessage is the document shape for a persisted direct message.
type storedMessage struct {
	SenderID    string    `firestore:"sender_id"`
	RecipientID string    `firestore:"recipient_id"`
	Text        string    `firestore:"text"`
	SentAt      time.Time `firestore:"sent_at"`
}

// FirestoreMessageStore implements fabric.MessageStore.
type FirestoreMessageStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

// NewFirestoreMessageStore is the constructor for the message store.
func NewFirestoreMessageStore(client *firestore.Client, logger zerolog.Logger) (*FirestoreMessageStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreMessageStore{client: client, logger: logger}, nil
}

// Append durably stores one direct message under a server-generated
// document ID.
func (s *FirestoreMessageStore) Append(ctx context.Context, senderID, recipientID, text string, sentAt time.Time) error {
	doc := s.client.Collection(messagesCollection).Doc(uuid.NewString())
	_, err := doc.Set(ctx, &storedMessage{
		SenderID:    senderID,
		RecipientID: recipientID,
		Text:        text,
		SentAt:      sentAt,
	})
	if err != nil {
		return fmt.Errorf("failed to append direct message: %w", err)
	}
	return nil
}

// FirestoreNotificationStore implements fabric.NotificationStore. Records are
// scoped structurally under the owning user's document, so cross-user reads
// and mutations are impossible by construction.
type FirestoreNotificationStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

// NewFirestoreNotificationStore is the constructor for the notification store.
func NewFirestoreNotificationStore(client *firestore.Client, logger zerolog.Logger) (*FirestoreNotificationStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreNotificationStore{client: client, logger: logger}, nil
}

func (s *FirestoreNotificationStore) userNotifications(userID string) *firestore.CollectionRef {
	return s.client.Collection(usersCollection).Doc(userID).Collection(notificationsCollection)
}

// Create persists an unread notification record.
func (s *FirestoreNotificationStore) Create(ctx context.Context, rec *fabric.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, err := s.userNotifications(rec.UserID).Doc(rec.ID).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListUnread returns the user's unread notifications, newest first.
func (s *FirestoreNotificationStore) ListUnread(ctx context.Context, userID string) ([]*fabric.NotificationRecord, error) {
	query := s.userNotifications(userID).
		Where("read", "==", false).
		OrderBy("created_at", firestore.Desc)

	docSnaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list unread notifications: %w", err)
	}

	records := make([]*fabric.NotificationRecord, 0, len(docSnaps))
	for _, doc := range docSnaps {
		var rec fabric.NotificationRecord
		if err := doc.DataTo(&rec); err != nil {
			s.logger.Error().Err(err).Str("doc_id", doc.Ref.ID).Msg("Failed to unmarshal notification, skipping")
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// MarkRead flips one notification's read flag. Unknown IDs map to
// fabric.ErrNotFound.
func (s *FirestoreNotificationStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	_, err := s.userNotifications(userID).Doc(notificationID).Update(ctx, []firestore.Update{
		{Path: "read", Value: true},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fabric.ErrNotFound
		}
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead flips every unread notification for the user.
func (s *FirestoreNotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	docSnaps, err := s.userNotifications(userID).Where("read", "==", false).Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("failed to query unread notifications: %w", err)
	}
	if len(docSnaps) == 0 {
		return nil
	}

	bulkWriter := s.client.BulkWriter(ctx)
	var firstErr error
	for _, doc := range docSnaps {
		if _, err := bulkWriter.Update(doc.Ref, []firestore.Update{{Path: "read", Value: true}}); err != nil {
			s.logger.Error().Err(err).Str("doc_id", doc.Ref.ID).Msg("Failed to enqueue read-flag update")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	bulkWriter.End()

	if firstErr != nil {
		return fmt.Errorf("failed to enqueue one or more read-flag updates: %w", firstErr)
	}
	return nil
}

// FirestorePushEndpointStore implements fabric.PushEndpointStore. Endpoint
// URIs are not valid document IDs, so documents are keyed by the endpoint's
// SHA-256 digest, which also makes Upsert naturally idempotent.
type FirestorePushEndpointStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

// NewFirestorePushEndpointStore is the constructor for the endpoint store.
func NewFirestorePushEndpointStore(client *firestore.Client, logger zerolog.Logger) (*FirestorePushEndpointStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestorePushEndpointStore{client: client, logger: logger}, nil
}

func endpointDocID(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}

func (s *FirestorePushEndpointStore) userEndpoints(userID string) *firestore.CollectionRef {
	return s.client.Collection(usersCollection).Doc(userID).Collection(endpointsCollection)
}

// Upsert creates or replaces the subscription for the endpoint URI.
func (s *FirestorePushEndpointStore) Upsert(ctx context.Context, ep *fabric.PushEndpoint) error {
	if ep.Endpoint == "" {
		return fmt.Errorf("push endpoint URI cannot be empty")
	}
	if _, err := s.userEndpoints(ep.UserID).Doc(endpointDocID(ep.Endpoint)).Set(ctx, ep); err != nil {
		return fmt.Errorf("failed to upsert push endpoint: %w", err)
	}
	return nil
}

// Delete removes the subscription for the endpoint URI. Deleting an unknown
// endpoint is a no-op.
func (s *FirestorePushEndpointStore) Delete(ctx context.Context, userID, endpoint string) error {
	if _, err := s.userEndpoints(userID).Doc(endpointDocID(endpoint)).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete push endpoint: %w", err)
	}
	return nil
}

// ListActive returns the user's non-expired endpoints. Endpoints whose expiry
// has passed are cleaned up as a side effect of being encountered here.
func (s *FirestorePushEndpointStore) ListActive(ctx context.Context, userID string) ([]*fabric.PushEndpoint, error) {
	docSnaps, err := s.userEndpoints(userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list push endpoints: %w", err)
	}

	now := time.Now().UTC()
	active := make([]*fabric.PushEndpoint, 0, len(docSnaps))
	var expired []*firestore.DocumentRef

	for _, doc := range docSnaps {
		var ep fabric.PushEndpoint
		if err := doc.DataTo(&ep); err != nil {
			s.logger.Error().Err(err).Str("doc_id", doc.Ref.ID).Msg("Failed to unmarshal push endpoint, skipping")
			continue
		}
		if ep.Expired(now) {
			expired = append(expired, doc.Ref)
			continue
		}
		active = append(active, &ep)
	}

	if len(expired) > 0 {
		s.logger.Info().Str("user", userID).Int("count", len(expired)).Msg("Cleaning up expired push endpoints")
		bulkWriter := s.client.BulkWriter(ctx)
		for _, ref := range expired {
			if _, err := bulkWriter.Delete(ref); err != nil {
				s.logger.Error().Err(err).Str("doc_id", ref.ID).Msg("Failed to enqueue expired endpoint for deletion")
			}
		}
		bulkWriter.End()
	}

	return active, nil
}
