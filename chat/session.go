package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// RealtimeHub is the hub surface a Session needs beyond the RPCs.
type RealtimeHub interface {
	Hub
	Connect(ctx context.Context) error
	OnMessageReceived(h func(wire.Message))
	OnReconnected(h func())
}

// API is the REST surface a Session needs.
type API interface {
	ChannelLister
	History
	Bookings
}

var (
	_ RealtimeHub = (*tutorhub.Client)(nil)
	_ API         = (*tutorhub.APIClient)(nil)
)

const rejoinTimeout = 10 * time.Second

// Session ties the channel list, the timeline and the composer to one hub
// connection and one REST client. It owns the hub's messageReceived and
// reconnected slots; register on the Session instead of the hub.
type Session struct {
	hub      RealtimeHub
	api      API
	me       tutorhub.Identity
	timeline *Timeline
	composer *Composer
	log      *logger.Logger

	mu            sync.Mutex
	channels      []wire.Channel
	onSelect      func(wire.Channel)
	onMessage     func(wire.Message)
	onReconnected func()
}

// NewSession creates a session for me and registers its hub handlers.
func NewSession(hub RealtimeHub, api API, me tutorhub.Identity, log *logger.Logger, opts ...TimelineOption) *Session {
	log = logger.OrNop(log)
	opts = append([]TimelineOption{WithTimelineLogger(log)}, opts...)
	tl := NewTimeline(api, opts...)
	s := &Session{
		hub:      hub,
		api:      api,
		me:       me,
		timeline: tl,
		composer: NewComposer(hub, tl, me, log),
		log:      log.Named("session"),
	}
	hub.OnMessageReceived(s.handlePush)
	hub.OnReconnected(s.handleReconnected)
	return s
}

// Timeline returns the session's timeline.
func (s *Session) Timeline() *Timeline { return s.timeline }

// Composer returns the session's composer.
func (s *Session) Composer() *Composer { return s.composer }

// Me returns the signed-in identity.
func (s *Session) Me() tutorhub.Identity { return s.me }

// OnSelect registers the hook run when a channel becomes active.
func (s *Session) OnSelect(h func(wire.Channel)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSelect = h
}

// OnMessage registers the hook run after a push changed the timeline.
func (s *Session) OnMessage(h func(wire.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = h
}

// OnReconnected registers the hook run after an automatic reconnect, once
// the active channel has been re-joined and refreshed.
func (s *Session) OnReconnected(h func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnected = h
}

// Channels loads the channel list from the server and caches it.
func (s *Session) Channels(ctx context.Context) ([]wire.Channel, error) {
	chs, err := s.api.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.channels = chs
	s.mu.Unlock()
	return append([]wire.Channel(nil), chs...), nil
}

// Filter filters the cached channel list.
func (s *Session) Filter(query string) []wire.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FilterChannels(s.channels, query)
}

// Channel returns the cached channel with the given id.
func (s *Session) Channel(id int64) (wire.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return wire.Channel{}, false
}

// Select makes a channel active: the timeline is reset, the previous room
// is left, the new room joined and page 1 of its history loaded. A failed
// join is logged and does not stop the history load.
func (s *Session) Select(ctx context.Context, channelID int64) error {
	prev := s.timeline.ActiveChannel()
	if prev == channelID {
		return nil
	}
	s.timeline.Select(channelID)

	if prev != 0 {
		if err := s.hub.LeaveChannel(ctx, prev); err != nil && !errors.Is(err, tutorhub.ErrNotConnected) {
			s.log.Warn("leave channel failed", zap.Int64("channel", prev), zap.Error(err))
		}
	}
	if err := s.join(ctx, channelID); err != nil {
		s.log.Warn("join channel failed", zap.Int64("channel", channelID), zap.Error(err))
	}

	s.mu.Lock()
	onSelect := s.onSelect
	s.mu.Unlock()
	if onSelect != nil {
		ch, ok := s.Channel(channelID)
		if !ok {
			ch = wire.Channel{ID: channelID}
		}
		onSelect(ch)
	}

	err := s.timeline.LoadPage(ctx, 1)
	if IsStale(err) {
		return nil
	}
	return err
}

// Send sends content into the active channel.
func (s *Session) Send(ctx context.Context, content string) (wire.Message, error) {
	return s.composer.Send(ctx, content)
}

// Close leaves the active room.
func (s *Session) Close(ctx context.Context) error {
	ch := s.timeline.ActiveChannel()
	if ch == 0 {
		return nil
	}
	err := s.hub.LeaveChannel(ctx, ch)
	if errors.Is(err, tutorhub.ErrNotConnected) {
		return nil
	}
	return err
}

func (s *Session) join(ctx context.Context, channelID int64) error {
	if err := s.hub.Connect(ctx); err != nil {
		return err
	}
	return s.hub.JoinChannel(ctx, channelID)
}

func (s *Session) handlePush(msg wire.Message) {
	if !s.timeline.ApplyPush(msg) {
		return
	}
	s.mu.Lock()
	h := s.onMessage
	s.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (s *Session) handleReconnected() {
	s.rejoin()

	s.mu.Lock()
	h := s.onReconnected
	s.mu.Unlock()
	if h != nil {
		h()
	}
}

// rejoin runs after an automatic reconnect. Rooms are per connection, so
// the active one is joined again and page 1 refreshed to cover the gap.
func (s *Session) rejoin() {
	ch := s.timeline.ActiveChannel()
	if ch == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rejoinTimeout)
	defer cancel()

	if err := s.hub.JoinChannel(ctx, ch); err != nil {
		s.log.Warn("rejoin after reconnect failed", zap.Int64("channel", ch), zap.Error(err))
		return
	}
	s.log.Info("rejoined channel after reconnect", zap.Int64("channel", ch))
	if err := s.timeline.LoadPage(ctx, 1); err != nil && !IsStale(err) {
		s.log.Warn("refresh after reconnect failed", zap.Int64("channel", ch), zap.Error(err))
	}
}
