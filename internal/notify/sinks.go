package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"challenge-engine/internal/database"
)

// NotificationStore persists notifications
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *database.Notification) error
}

// StoreSink persists notifications so users can list them later
type StoreSink struct {
	store  NotificationStore
	logger *slog.Logger
}

// NewStoreSink creates a sink writing to store
func NewStoreSink(store NotificationStore, logger *slog.Logger) *StoreSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSink{store: store, logger: logger}
}

// Notify implements Sink
func (s *StoreSink) Notify(ctx context.Context, n Notification) error {
	var challengeID *string
	if n.ChallengeID != "" {
		id := n.ChallengeID
		challengeID = &id
	}

	err := s.store.InsertNotification(ctx, &database.Notification{
		ID:          uuid.NewString(),
		UserID:      n.UserID,
		Kind:        string(n.Kind),
		ChallengeID: challengeID,
		Message:     n.Message,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return err
	}

	s.logger.Info("Notification created", "user_id", n.UserID, "kind", n.Kind, "challenge_id", n.ChallengeID)
	return nil
}

// MemorySink records notifications in memory
type MemorySink struct {
	mu   sync.Mutex
	sent []Notification
}

// Notify implements Sink
func (m *MemorySink) Notify(ctx context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns a copy of everything delivered so far
func (m *MemorySink) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.sent...)
}

// Kinds returns the kinds delivered to userID, in order
func (m *MemorySink) Kinds(userID string) []Kind {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kinds []Kind
	for _, n := range m.sent {
		if n.UserID == userID {
			kinds = append(kinds, n.Kind)
		}
	}
	return kinds
}
