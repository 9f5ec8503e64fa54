package chat

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/metrics"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// TimelineOption configures a Timeline.
type TimelineOption func(*Timeline)

// WithPageSize sets the history page size.
func WithPageSize(n int) TimelineOption {
	return func(t *Timeline) {
		if n > 0 {
			t.pageSize = n
		}
	}
}

// WithTimelineLogger sets the timeline's logger.
func WithTimelineLogger(l *logger.Logger) TimelineOption {
	return func(t *Timeline) { t.log = logger.OrNop(l).Named("timeline") }
}

// Timeline is the ordered message list of the active channel, newest
// first. It merges paginated history with real-time pushes and
// optimistic inserts. Safe for concurrent use.
type Timeline struct {
	history  History
	pageSize int
	log      *logger.Logger

	mu         sync.Mutex
	channelID  int64
	gen        uint64 // bumped by Select; responses from older selections are dropped
	messages   []wire.Message
	ids        map[int64]struct{}
	page       int
	hasMore    bool
	inflight   int // history loads running for this generation
	lastErr    error
	failedPage int
}

// NewTimeline creates an empty timeline with no active channel.
func NewTimeline(history History, opts ...TimelineOption) *Timeline {
	t := &Timeline{
		history:  history,
		pageSize: tutorhub.DefaultPageSize,
		log:      logger.Nop(),
		ids:      make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Select makes channelID active: the list is cleared, pagination restarts
// and any request still in flight for the previous selection is orphaned.
// It returns the new generation.
func (t *Timeline) Select(channelID int64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	t.channelID = channelID
	t.messages = nil
	t.ids = make(map[int64]struct{})
	t.page = 0
	t.hasMore = true
	t.inflight = 0
	t.lastErr = nil
	t.failedPage = 0
	return t.gen
}

// LoadPage fetches one history page for the active channel. Page 1
// replaces the list; later pages are appended, skipping ids already shown.
// A failure is kept in LastError and the loaded messages stay put. It may
// overlap LoadOlder; Loading stays true until both finish.
func (t *Timeline) LoadPage(ctx context.Context, page int) error {
	t.mu.Lock()
	if t.channelID == 0 {
		t.mu.Unlock()
		return ErrNoActiveChannel
	}
	t.inflight++
	t.mu.Unlock()
	return t.fetch(ctx, page)
}

// LoadOlder fetches the next page. It does nothing when the history is
// exhausted or a load is already running.
func (t *Timeline) LoadOlder(ctx context.Context) error {
	t.mu.Lock()
	if t.channelID == 0 || !t.hasMore || t.inflight > 0 {
		t.mu.Unlock()
		return nil
	}
	t.inflight++
	next := t.page + 1
	t.mu.Unlock()
	return t.fetch(ctx, next)
}

// Retry repeats the last failed load. It is a no-op when nothing failed.
func (t *Timeline) Retry(ctx context.Context) error {
	t.mu.Lock()
	if t.lastErr == nil || t.inflight > 0 {
		t.mu.Unlock()
		return nil
	}
	page := t.failedPage
	t.inflight++
	t.mu.Unlock()
	return t.fetch(ctx, page)
}

// fetch runs with t.inflight already counted by the caller. A stale
// response leaves the counter alone since Select reset it.
func (t *Timeline) fetch(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	t.mu.Lock()
	gen, channelID := t.gen, t.channelID
	t.mu.Unlock()

	msgs, err := t.history.ListMessages(ctx, channelID, tutorhub.Page{Page: page, PageSize: t.pageSize})

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		t.log.Debug("discarding stale history page",
			zap.Int64("channel", channelID), zap.Int("page", page))
		return ErrStaleResponse
	}
	t.inflight--

	if err != nil {
		t.lastErr = err
		t.failedPage = page
		t.log.Warn("history load failed",
			zap.Int64("channel", channelID), zap.Int("page", page), zap.Error(err))
		return err
	}
	t.lastErr = nil
	t.failedPage = 0

	if page == 1 {
		t.replaceLocked(msgs)
	} else {
		for _, m := range msgs {
			if m.ChannelID != 0 && m.ChannelID != channelID {
				continue
			}
			if _, seen := t.ids[m.ID]; seen {
				continue
			}
			t.insertOlderLocked(m)
		}
	}
	if page > t.page {
		t.page = page
	}
	t.hasMore = len(msgs) >= t.pageSize
	return nil
}

// replaceLocked installs page 1. Pending provisional messages and pushes
// newer than the page survive the replace.
func (t *Timeline) replaceLocked(msgs []wire.Message) {
	old := t.messages
	t.messages = nil
	t.ids = make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if _, seen := t.ids[m.ID]; seen {
			continue
		}
		t.insertOlderLocked(m)
	}

	var newest wire.Message
	if len(t.messages) > 0 {
		newest = t.messages[0]
	}
	for _, m := range old {
		if _, seen := t.ids[m.ID]; seen {
			continue
		}
		if m.Provisional || m.CreatedAt.After(newest.CreatedAt) {
			t.insertLocked(m)
		}
	}
}

// ApplyPush merges a real-time message. Pushes for another channel are
// dropped, a matching provisional copy is replaced, and ids already shown
// are ignored. It reports whether the timeline changed.
func (t *Timeline) ApplyPush(msg wire.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channelID == 0 || msg.ChannelID != t.channelID {
		metrics.TimelinePushes.WithLabelValues("other_channel").Inc()
		return false
	}
	if _, seen := t.ids[msg.ID]; seen {
		metrics.TimelinePushes.WithLabelValues("duplicate").Inc()
		return false
	}

	// Newest first, so a repeated send reconciles its latest copy.
	for i, m := range t.messages {
		if Reconcile(m, msg) {
			t.removeAtLocked(i)
			t.insertLocked(msg)
			metrics.TimelinePushes.WithLabelValues("reconciled").Inc()
			metrics.Provisional.WithLabelValues("reconciled").Inc()
			return true
		}
	}

	t.insertLocked(msg)
	metrics.TimelinePushes.WithLabelValues("inserted").Inc()
	return true
}

// InsertProvisional adds an optimistic message to the active channel. It
// reports false when msg belongs to another channel.
func (t *Timeline) InsertProvisional(msg wire.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channelID == 0 || msg.ChannelID != t.channelID {
		return false
	}
	msg.Provisional = true
	t.insertLocked(msg)
	metrics.Provisional.WithLabelValues("inserted").Inc()
	return true
}

// Remove deletes the message with the given id.
func (t *Timeline) Remove(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := slices.IndexFunc(t.messages, func(m wire.Message) bool { return m.ID == id })
	if i < 0 {
		return false
	}
	t.removeAtLocked(i)
	return true
}

// Messages returns a copy of the list, newest first.
func (t *Timeline) Messages() []wire.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// HasMore reports whether older pages may exist.
func (t *Timeline) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// ActiveChannel returns the selected channel id, or 0.
func (t *Timeline) ActiveChannel() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channelID
}

// Generation returns the current selection generation.
func (t *Timeline) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// Page returns the highest page loaded so far.
func (t *Timeline) Page() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

// Loading reports whether a history load is running.
func (t *Timeline) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight > 0
}

// LastError returns the error of the last failed load, or nil.
func (t *Timeline) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// IsStale reports whether err is the result of a superseded selection.
func IsStale(err error) bool { return errors.Is(err, ErrStaleResponse) }

// insertLocked places m by CreatedAt, newest first. Ties go in front.
func (t *Timeline) insertLocked(m wire.Message) {
	i := slices.IndexFunc(t.messages, func(x wire.Message) bool {
		return !m.CreatedAt.Before(x.CreatedAt)
	})
	if i < 0 {
		i = len(t.messages)
	}
	t.messages = slices.Insert(t.messages, i, m)
	t.ids[m.ID] = struct{}{}
}

// insertOlderLocked places a history message by CreatedAt behind any
// message with the same timestamp, keeping server order for ties.
func (t *Timeline) insertOlderLocked(m wire.Message) {
	i := slices.IndexFunc(t.messages, func(x wire.Message) bool {
		return x.CreatedAt.Before(m.CreatedAt)
	})
	if i < 0 {
		i = len(t.messages)
	}
	t.messages = slices.Insert(t.messages, i, m)
	t.ids[m.ID] = struct{}{}
}

func (t *Timeline) removeAtLocked(i int) {
	delete(t.ids, t.messages[i].ID)
	t.messages = slices.Delete(t.messages, i, i+1)
}
