// Package api defines the authenticated HTTP surface around the fabric:
// notification listing and read receipts, push subscription management, and
// the server-to-server dispatch endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

// dispatcher is the slice of the notification dispatcher the API needs.
type dispatcher interface {
	Dispatch(ctx context.Context, userID, title, body, url string) (*fabric.NotificationRecord, error)
}

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	dispatcher    dispatcher
	notifications fabric.NotificationStore
	endpoints     fabric.PushEndpointStore
	logger        zerolog.Logger
}

// NewAPI creates a new, stateless API handler.
func NewAPI(d dispatcher, notifications fabric.NotificationStore, endpoints fabric.PushEndpointStore, logger zerolog.Logger) *API {
	return &API{
		dispatcher:    d,
		notifications: notifications,
		endpoints:     endpoints,
		logger:        logger.With().Str("component", "API").Logger(),
	}
}

// Register attaches all handlers to the mux. Every route expects the auth
// middleware to have run.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/notifications", a.ListNotificationsHandler)
	mux.HandleFunc("POST /api/notifications/{id}/read", a.MarkReadHandler)
	mux.HandleFunc("POST /api/notifications/read-all", a.MarkAllReadHandler)
	mux.HandleFunc("POST /api/push/subscribe", a.SubscribeHandler)
	mux.HandleFunc("DELETE /api/push/subscribe", a.UnsubscribeHandler)
	mux.HandleFunc("POST /api/notify", a.NotifyHandler)
}

// ListNotificationsHandler returns the caller's unread notifications.
func (a *API) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	records, err := a.notifications.ListUnread(r.Context(), userID)
	if err != nil {
		a.logger.Error().Err(err).Str("user", userID).Msg("Failed to list notifications")
		writeJSONError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"notifications": records})
}

// MarkReadHandler flips one notification's read flag for the caller.
func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	notificationID := r.PathValue("id")
	if notificationID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing notification id")
		return
	}

	if err := a.notifications.MarkRead(r.Context(), userID, notificationID); err != nil {
		if errors.Is(err, fabric.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "notification not found")
			return
		}
		a.logger.Error().Err(err).Str("user", userID).Str("notification_id", notificationID).Msg("Failed to mark notification read")
		writeJSONError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkAllReadHandler flips every unread notification for the caller.
func (a *API) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	if err := a.notifications.MarkAllRead(r.Context(), userID); err != nil {
		a.logger.Error().Err(err).Str("user", userID).Msg("Failed to mark all notifications read")
		writeJSONError(w, http.StatusInternalServerError, "failed to mark notifications read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// subscribeBody mirrors the browser's PushSubscription JSON shape.
type subscribeBody struct {
	Endpoint       string   `json:"endpoint"`
	ExpirationTime *float64 `json:"expirationTime"` // ms since epoch, or null
	Keys           struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscribeHandler stores or refreshes a push endpoint for the caller.
func (a *API) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	var body subscribeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Endpoint == "" || body.Keys.P256dh == "" || body.Keys.Auth == "" {
		writeJSONError(w, http.StatusBadRequest, "endpoint and keys are required")
		return
	}

	ep := &fabric.PushEndpoint{
		UserID:   userID,
		Endpoint: body.Endpoint,
		P256dh:   body.Keys.P256dh,
		Auth:     body.Keys.Auth,
	}
	if body.ExpirationTime != nil {
		expiry := time.UnixMilli(int64(*body.ExpirationTime)).UTC()
		ep.ExpiresAt = &expiry
	}

	if err := a.endpoints.Upsert(r.Context(), ep); err != nil {
		a.logger.Error().Err(err).Str("user", userID).Msg("Failed to store push endpoint")
		writeJSONError(w, http.StatusInternalServerError, "failed to store subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeHandler removes a push endpoint for the caller.
func (a *API) UnsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	var body struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Endpoint == "" {
		writeJSONError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	if err := a.endpoints.Delete(r.Context(), userID, body.Endpoint); err != nil {
		a.logger.Error().Err(err).Str("user", userID).Msg("Failed to delete push endpoint")
		writeJSONError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// notifyBody is the server-to-server dispatch request.
type notifyBody struct {
	UserID  string `json:"userId"`
	Title   string `json:"title"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// NotifyHandler dispatches a notification to the target user on behalf of a
// sibling service.
func (a *API) NotifyHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	var body notifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.UserID == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}

	rec, err := a.dispatcher.Dispatch(r.Context(), body.UserID, body.Title, body.Message, body.URL)
	if err != nil {
		a.logger.Error().Err(err).Str("caller", caller).Str("target", body.UserID).Msg("Dispatch failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to dispatch notification")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}
