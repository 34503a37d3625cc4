package history

import (
	"context"
	"sync"
	"time"
)

type conversation struct {
	messages []Message
	lastSeen time.Time
}

// MemoryStore is an in-process Store for single-instance deployments. Idle
// conversations are swept after a TTL.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	maxTurns      int
	maxChars      int
	ttl           time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxTurns sets the exchange retention limit.
func WithMaxTurns(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithMaxMessageChars sets the per-message truncation limit.
func WithMaxMessageChars(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxChars = n
		}
	}
}

// WithTTL sets how long an idle conversation survives.
func WithTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewMemoryStore creates a store and starts its sweep loop. Call Close to
// stop it.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		conversations: make(map[string]*conversation),
		maxTurns:      DefaultMaxTurns,
		maxChars:      DefaultMaxMessageChars,
		ttl:           30 * time.Minute,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(_ context.Context, conversationID, userMsg, assistantMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		c = &conversation{}
		s.conversations[conversationID] = c
	}
	c.messages = append(c.messages,
		Message{Role: RoleUser, Content: clamp(userMsg, s.maxChars)},
		Message{Role: RoleAssistant, Content: clamp(assistantMsg, s.maxChars)},
	)
	if max := s.maxTurns * 2; len(c.messages) > max {
		c.messages = c.messages[len(c.messages)-max:]
	}
	c.lastSeen = time.Now()
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

// Close stops the sweep loop.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conversations {
		if now.Sub(c.lastSeen) > s.ttl {
			delete(s.conversations, id)
		}
	}
}
