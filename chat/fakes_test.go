package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

type hubCall struct {
	method    string
	channelID int64
	content   string
}

// fakeHub records RPCs. sendErr, when set, fails SendMessage.
type fakeHub struct {
	mu          sync.Mutex
	calls       []hubCall
	sendErr     error
	onMessage   func(wire.Message)
	reconnected func()
}

func (h *fakeHub) record(c hubCall) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
}

func (h *fakeHub) Connect(ctx context.Context) error { return nil }

func (h *fakeHub) JoinChannel(ctx context.Context, id int64) error {
	h.record(hubCall{method: wire.MethodJoinChannel, channelID: id})
	return nil
}

func (h *fakeHub) LeaveChannel(ctx context.Context, id int64) error {
	h.record(hubCall{method: wire.MethodLeaveChannel, channelID: id})
	return nil
}

func (h *fakeHub) SendMessage(ctx context.Context, id int64, content string) error {
	h.record(hubCall{method: wire.MethodSendMessage, channelID: id, content: content})
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sendErr
}

func (h *fakeHub) OnMessageReceived(fn func(wire.Message)) { h.onMessage = fn }
func (h *fakeHub) OnReconnected(fn func())                 { h.reconnected = fn }

func (h *fakeHub) callsTo(method string) []hubCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hubCall
	for _, c := range h.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

// fakeAPI serves history from an in-memory newest-first list per channel.
type fakeAPI struct {
	mu       sync.Mutex
	history  map[int64][]wire.Message
	channels []wire.Channel
	requests []tutorhub.Page
	fail     error
	gate     chan struct{}         // when non-nil, ListMessages blocks until closed
	entered  chan struct{}         // when non-nil, signalled as ListMessages starts
	pageGate map[int]chan struct{} // per-page gates, like gate

	booking    *wire.Booking
	bookingErr error
	respondErr error
	accepted   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{history: make(map[int64][]wire.Message)}
}

func (a *fakeAPI) ListChannels(ctx context.Context) ([]wire.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]wire.Channel(nil), a.channels...), nil
}

func (a *fakeAPI) ListMessages(ctx context.Context, channelID int64, p tutorhub.Page) ([]wire.Message, error) {
	a.mu.Lock()
	gate, entered := a.gate, a.entered
	if g, ok := a.pageGate[p.Page]; ok {
		gate = g
	}
	a.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, p)
	if a.fail != nil {
		return nil, a.fail
	}
	all := a.history[channelID]
	start := (p.Page - 1) * p.PageSize
	if start >= len(all) {
		return nil, nil
	}
	end := min(start+p.PageSize, len(all))
	return append([]wire.Message(nil), all[start:end]...), nil
}

func (a *fakeAPI) GetBooking(ctx context.Context, id int64) (*wire.Booking, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bookingErr != nil {
		return nil, a.bookingErr
	}
	b := *a.booking
	return &b, nil
}

func (a *fakeAPI) AcceptBooking(ctx context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accepted++
	return a.respondErr
}

func (a *fakeAPI) DeclineBooking(ctx context.Context, id int64, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.respondErr
}

func (a *fakeAPI) requestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// history builds n messages for a channel, newest first, with ids n..1.
func history(channelID int64, n int) []wire.Message {
	out := make([]wire.Message, 0, n)
	for i := n; i >= 1; i-- {
		out = append(out, wire.Message{
			ID:        int64(i),
			ChannelID: channelID,
			SenderID:  "tutor-1",
			Content:   fmt.Sprintf("message %d", i),
			Type:      wire.MessageText,
			CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}
