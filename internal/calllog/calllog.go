// Package calllog turns terminal call transitions into durable records: one
// message through the messaging collaborator per call with a conversation,
// plus a row in the local call history.
package calllog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/communehq/callcore/internal/metrics"
)

// Status is the final outcome recorded for a call.
type Status string

const (
	StatusAnswered Status = "answered"
	StatusMissed   Status = "missed"
	StatusRejected Status = "rejected"
	StatusEnded    Status = "ended"
)

// Direction of the call from the local user's point of view.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// TypeCallLog is the message type the messaging service stores call logs
// under, rendered inline in the conversation.
const TypeCallLog = "CALL_LOG"

// CallData is the structured payload attached to a call log message.
type CallData struct {
	IsVideo bool `json:"isVideo"`
	// Status is the final call outcome; answered is reserved for live UI
	// state and never written here.
	Status Status `json:"status"`
	// Duration is whole seconds of connected time, 0 when never connected.
	Duration int `json:"duration"`
}

// Message is the durable call log entry in the messaging service's shape.
type Message struct {
	ConversationID string   `json:"conversationId"`
	Type           string   `json:"type"`
	Content        string   `json:"content"`
	CallData       CallData `json:"callData"`
}

// Writer is the messaging collaborator the log entry is persisted through.
type Writer interface {
	WriteCallLog(ctx context.Context, msg Message) error
}

// Record is one finished call as reported by the session core.
type Record struct {
	CallID         string
	ConversationID string
	Direction      Direction
	PeerID         string
	PeerName       string
	IsVideo        bool
	Status         Status
	DurationSecs   int
	StartedAt      time.Time
	EndedAt        time.Time
}

// Reconciler writes the authoritative record for each finished call. The
// session core guarantees at most one Reconcile call per session; the history
// store additionally dedupes on call ID.
type Reconciler struct {
	writer  Writer
	history *History
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewReconciler builds a reconciler. writer and history may each be nil, in
// which case the corresponding sink is skipped.
func NewReconciler(w Writer, h *History, m *metrics.Metrics, log *slog.Logger) *Reconciler {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{writer: w, history: h, metrics: m, log: log}
}

// Reconcile persists rec. Calls without a conversation produce no messaging
// entry but are still kept in the local history.
func (r *Reconciler) Reconcile(ctx context.Context, rec Record) error {
	if rec.DurationSecs < 0 {
		rec.DurationSecs = 0
	}

	if r.history != nil {
		if err := r.history.Insert(ctx, rec); err != nil {
			// History is advisory; the messaging log is the authoritative
			// record and must still be attempted.
			r.log.Warn("call history insert failed", "call_id", rec.CallID, "err", err)
		}
	}

	if rec.ConversationID == "" || r.writer == nil {
		return nil
	}

	data := CallData{IsVideo: rec.IsVideo, Status: rec.Status, Duration: rec.DurationSecs}
	msg := Message{
		ConversationID: rec.ConversationID,
		Type:           TypeCallLog,
		Content:        RenderContent(data),
		CallData:       data,
	}
	if err := r.writer.WriteCallLog(ctx, msg); err != nil {
		r.metrics.Inc(metrics.LogWriteFailures)
		return fmt.Errorf("write call log: %w", err)
	}
	r.metrics.Inc(metrics.LogWrites)
	return nil
}

// RenderContent produces the human-readable fallback line shown by clients
// that do not render CallData natively.
func RenderContent(data CallData) string {
	kind := "Voice call"
	if data.IsVideo {
		kind = "Video call"
	}
	switch data.Status {
	case StatusMissed:
		return "Missed " + lower(kind)
	case StatusRejected:
		return "Declined " + lower(kind)
	default:
		if data.Duration > 0 {
			return kind + " · " + FormatDuration(data.Duration)
		}
		return kind
	}
}

func lower(kind string) string {
	switch kind {
	case "Voice call":
		return "voice call"
	case "Video call":
		return "video call"
	}
	return kind
}

// FormatDuration renders whole seconds as m:ss, or h:mm:ss from one hour up.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
