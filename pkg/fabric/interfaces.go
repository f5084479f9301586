package fabric

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared across the fabric and its collaborators.
var (
	// ErrEndpointGone is returned by a PushProvider when the push service
	// reports the endpoint as permanently invalid. The dispatcher retires the
	// endpoint in response.
	ErrEndpointGone = errors.New("push endpoint gone")

	// ErrNotFound is returned by stores when the requested record does not
	// exist for the given user.
	ErrNotFound = errors.New("record not found")

	// ErrHandleClosed is returned by a Handle send after the underlying
	// transport has closed.
	ErrHandleClosed = errors.New("connection handle closed")
)

// IdentityVerifier resolves an opaque credential token to a verified subject
// identifier. Consumed by the session manager during the handshake.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// MessageStore is the durable sink for direct messages. The fabric writes to
// it unconditionally; it does not own the store's schema.
type MessageStore interface {
	Append(ctx context.Context, senderID, recipientID, text string, sentAt time.Time) error
}

// NotificationRecord is a persisted notification for one user.
type NotificationRecord struct {
	ID        string            `json:"id" firestore:"id"`
	UserID    string            `json:"userId" firestore:"user_id"`
	Title     string            `json:"title" firestore:"title"`
	Message   string            `json:"message" firestore:"message"`
	URL       string            `json:"url,omitempty" firestore:"url,omitempty"`
	Read      bool              `json:"read" firestore:"read"`
	CreatedAt time.Time         `json:"createdAt" firestore:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty" firestore:"metadata,omitempty"`
}

// NotificationStore persists notification records. Create must succeed before
// any delivery is attempted; the read flag is mutated only via MarkRead and
// MarkAllRead.
type NotificationStore interface {
	Create(ctx context.Context, rec *NotificationRecord) error
	ListUnread(ctx context.Context, userID string) ([]*NotificationRecord, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// PushEndpoint is a browser/OS push subscription for one user, independent of
// any live connection.
type PushEndpoint struct {
	UserID    string     `json:"userId" firestore:"user_id"`
	Endpoint  string     `json:"endpoint" firestore:"endpoint"`
	P256dh    string     `json:"p256dh" firestore:"p256dh"`
	Auth      string     `json:"auth" firestore:"auth"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" firestore:"expires_at,omitempty"`
}

// Expired reports whether the endpoint's expiry timestamp has passed.
func (e *PushEndpoint) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// PushEndpointStore holds push endpoints keyed by user. ListActive returns
// only non-expired endpoints; Delete is how the fabric retires endpoints the
// provider reports as permanently invalid.
type PushEndpointStore interface {
	Upsert(ctx context.Context, ep *PushEndpoint) error
	Delete(ctx context.Context, userID, endpoint string) error
	ListActive(ctx context.Context, userID string) ([]*PushEndpoint, error)
}

// PushProvider delivers a payload to one push endpoint. Implementations
// return ErrEndpointGone when the push service reports the endpoint as
// permanently invalid.
type PushProvider interface {
	Send(ctx context.Context, ep *PushEndpoint, payload []byte) error
}

// PresenceCache mirrors which users currently hold at least one open
// connection. Best effort: cache failures never affect connection handling.
type PresenceCache interface {
	Set(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}
