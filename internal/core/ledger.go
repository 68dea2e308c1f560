package core

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"kami.app/kami-server/internal/store"
)

const (
	// HistoryWindow is how many past exchanges are embedded in a chat prompt.
	HistoryWindow = 5
	// DefaultRecentLimit bounds the recent activity view.
	DefaultRecentLimit = 10
)

var ErrInvalidMessage = errors.New("invalid message")

// Exchange is one question and the god's answer.
type Exchange struct {
	Message  string `json:"message"`
	Response string `json:"response"`
}

// Ledger is the append-only message log.
type Ledger struct {
	store *store.Store
	feed  *Feed
	now   func() time.Time

	// appendMu keeps feed delivery in the same order as the stored timeline.
	appendMu sync.Mutex
}

func NewLedger(s *store.Store, feed *Feed) *Ledger {
	return &Ledger{store: s, feed: feed, now: time.Now}
}

func (l *Ledger) Feed() *Feed {
	return l.feed
}

// Append assigns the id and timestamp, stores the message and publishes it to the feed.
func (l *Ledger) Append(ctx context.Context, m store.Message) (*store.Message, error) {
	switch m.MessageType {
	case store.MessageTypeGod:
		if m.Response == nil {
			return nil, ErrInvalidMessage
		}
		m.IsGodMessage = true
	case store.MessageTypeBeliever:
		m.Response = nil
		m.IsGodMessage = false
	default:
		return nil, ErrInvalidMessage
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	m.ID = newID("msg", l.now())
	saved, err := l.store.AppendMessage(ctx, m)
	if err != nil {
		return nil, err
	}
	if l.feed != nil {
		l.feed.Publish(*saved)
	}
	return saved, nil
}

// ListByGod returns the whole community timeline of a god, oldest first.
func (l *Ledger) ListByGod(ctx context.Context, godID string) ([]store.Message, error) {
	return l.list(ctx, func(m store.Message) bool { return m.GodID == godID }, ascending)
}

// ListByUserAndGod returns the user's own exchanges with a god, oldest first.
func (l *Ledger) ListByUserAndGod(ctx context.Context, userID, godID string) ([]store.Message, error) {
	return l.list(ctx, func(m store.Message) bool {
		return m.UserID == userID && m.GodID == godID && isExchange(m)
	}, ascending)
}

// ListByUser returns the user's latest exchanges across all gods, newest first.
func (l *Ledger) ListByUser(ctx context.Context, userID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	messages, err := l.list(ctx, func(m store.Message) bool {
		return m.UserID == userID && isExchange(m)
	}, descending)
	if err != nil {
		return nil, err
	}
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// RecentHistory returns the last n exchanges between user and god, oldest first.
func (l *Ledger) RecentHistory(ctx context.Context, userID, godID string, n int) ([]Exchange, error) {
	messages, err := l.ListByUserAndGod(ctx, userID, godID)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	history := make([]Exchange, 0, len(messages))
	for _, m := range messages {
		history = append(history, Exchange{Message: m.Message, Response: *m.Response})
	}
	return history, nil
}

func (l *Ledger) list(ctx context.Context, keep func(store.Message) bool, order func(a, b store.Message) int) ([]store.Message, error) {
	messages, err := l.store.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	messages = slices.DeleteFunc(messages, func(m store.Message) bool { return !keep(m) })
	slices.SortStableFunc(messages, order)
	return messages, nil
}

func isExchange(m store.Message) bool {
	return m.MessageType == store.MessageTypeGod && m.Response != nil
}

func ascending(a, b store.Message) int  { return a.CreatedAt.Compare(b.CreatedAt) }
func descending(a, b store.Message) int { return b.CreatedAt.Compare(a.CreatedAt) }
