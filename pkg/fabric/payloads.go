package fabric

import (
	"encoding/json"
	"time"
)

// HeartbeatSentinel is the literal application-level keep-alive frame clients
// send to reset their inactivity deadline. It is consumed by the session and
// never forwarded to a router.
const HeartbeatSentinel = "ping"

// Payload type tags used on the wire.
const (
	TypeSystem       = "system"
	TypeChat         = "chat"
	TypeNotification = "notification"
	TypePong         = "pong"
)

// Payload is the closed set of outbound wire messages. Every variant encodes
// to a single JSON object shape carrying a "type" tag.
type Payload interface {
	// Encode renders the wire JSON for the payload.
	Encode() ([]byte, error)
}

// wireMessage is the one serialization shape shared by all payload variants.
type wireMessage struct {
	Type         string `json:"type"`
	ID           string `json:"id,omitempty"`
	SenderID     string `json:"senderId,omitempty"`
	Sender       string `json:"sender,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
	Text         string `json:"text,omitempty"`
	Title        string `json:"title,omitempty"`
	URL          string `json:"url,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

func encodeWire(m wireMessage) ([]byte, error) {
	return json.Marshal(m)
}

func wireTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// SystemNotice is a server-originated room announcement, e.g. a member
// joining or leaving.
type SystemNotice struct {
	Text      string
	Timestamp time.Time
}

// Encode implements Payload.
func (n SystemNotice) Encode() ([]byte, error) {
	return encodeWire(wireMessage{
		Type:      TypeSystem,
		Text:      n.Text,
		Timestamp: wireTime(n.Timestamp),
	})
}

// ChatMessage is an ordinary room or direct chat message. ID and Timestamp
// are assigned by the server at the point of routing; sender display metadata
// is client-supplied and advisory.
type ChatMessage struct {
	ID           string
	SenderID     string
	SenderName   string
	ProfileImage string
	RecipientID  string
	Text         string
	Timestamp    time.Time
}

// Encode implements Payload. The recipient identifier is addressing
// information, not part of the delivered frame.
func (m ChatMessage) Encode() ([]byte, error) {
	return encodeWire(wireMessage{
		Type:         TypeChat,
		ID:           m.ID,
		SenderID:     m.SenderID,
		Sender:       m.SenderName,
		ProfileImage: m.ProfileImage,
		Text:         m.Text,
		Timestamp:    wireTime(m.Timestamp),
	})
}

// PushNotification is the live-delivery form of a notification record.
type PushNotification struct {
	ID        string
	Title     string
	Message   string
	URL       string
	Timestamp time.Time
}

// Encode implements Payload.
func (p PushNotification) Encode() ([]byte, error) {
	return encodeWire(wireMessage{
		Type:      TypeNotification,
		ID:        p.ID,
		Title:     p.Title,
		Text:      p.Message,
		URL:       p.URL,
		Timestamp: wireTime(p.Timestamp),
	})
}

// Pong is the reply to a heartbeat sentinel.
type Pong struct{}

// Encode implements Payload.
func (Pong) Encode() ([]byte, error) {
	return encodeWire(wireMessage{Type: TypePong})
}
