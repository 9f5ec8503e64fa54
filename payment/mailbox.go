package payment

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// ResultKey is the mailbox key the checkout callback writes to.
const ResultKey = "payment_result"

// Result statuses written by the checkout callback.
const (
	StatusSuccess   = "success"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Result is the checkout outcome relayed through the mailbox.
type Result struct {
	BookingID int64             `json:"bookingId"`
	Status    string            `json:"status"`
	Phase     wire.PaymentPhase `json:"phase,omitempty"`
}

// Succeeded reports whether the checkout completed.
func (r Result) Succeeded() bool { return r.Status == StatusSuccess }

// Encode serializes r for the mailbox.
func (r Result) Encode() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// DecodeResult parses a mailbox value.
func DecodeResult(v string) (Result, bool) {
	var r Result
	if err := json.Unmarshal([]byte(v), &r); err != nil || r.BookingID == 0 {
		return Result{}, false
	}
	r.Status = strings.ToLower(r.Status)
	return r, true
}

// Mailbox is a small key-value store shared between the checkout callback
// and the session waiting for it, with change notification.
type Mailbox interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Watch delivers every value set on key after the call returns. The
	// channel is closed when ctx ends.
	Watch(ctx context.Context, key string) (<-chan string, error)
}

// MemoryMailbox is an in-process Mailbox.
type MemoryMailbox struct {
	mu       sync.Mutex
	values   map[string]string
	watchers map[string]map[chan string]struct{}
}

// NewMemoryMailbox creates an empty in-process mailbox.
func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{
		values:   make(map[string]string),
		watchers: make(map[string]map[chan string]struct{}),
	}
}

// Get implements Mailbox.
func (m *MemoryMailbox) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements Mailbox. Watchers of key receive value.
func (m *MemoryMailbox) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	for ch := range m.watchers[key] {
		select {
		case ch <- value:
		default:
			// slow watcher; it still sees the value through Get
		}
	}
	return nil
}

// Delete implements Mailbox.
func (m *MemoryMailbox) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Watch implements Mailbox. The channel closes when ctx ends.
func (m *MemoryMailbox) Watch(ctx context.Context, key string) (<-chan string, error) {
	ch := make(chan string, 8)

	m.mu.Lock()
	if m.watchers[key] == nil {
		m.watchers[key] = make(map[chan string]struct{})
	}
	m.watchers[key][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers[key], ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}
