package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/metrics"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// Composer sends messages into the active channel with an optimistic
// local copy that the server's push later replaces.
type Composer struct {
	hub      Hub
	timeline *Timeline
	ids      *IDGen
	me       tutorhub.Identity
	log      *logger.Logger
	now      func() time.Time
}

// NewComposer creates a composer sending as me.
func NewComposer(hub Hub, timeline *Timeline, me tutorhub.Identity, log *logger.Logger) *Composer {
	return &Composer{
		hub:      hub,
		timeline: timeline,
		ids:      NewIDGen(),
		me:       me,
		log:      logger.OrNop(log).Named("composer"),
		now:      time.Now,
	}
}

// Send trims content, shows it immediately as a provisional message and
// invokes SendMessage on the hub. Blank content is rejected without any
// network call. On failure the provisional copy is withdrawn and the error
// returned. The returned message is the provisional copy.
func (c *Composer) Send(ctx context.Context, content string) (wire.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return wire.Message{}, ErrEmptyMessage
	}
	channelID := c.timeline.ActiveChannel()
	if channelID == 0 {
		return wire.Message{}, ErrNoActiveChannel
	}

	msg := wire.Message{
		ID:          c.ids.Next(),
		ChannelID:   channelID,
		SenderID:    c.me.UserID,
		SenderName:  c.me.Name,
		Content:     content,
		Type:        wire.MessageText,
		CreatedAt:   c.now().UTC(),
		Provisional: true,
	}
	if !c.timeline.InsertProvisional(msg) {
		// selection changed between the two reads
		return wire.Message{}, ErrNoActiveChannel
	}

	if err := c.hub.SendMessage(ctx, channelID, content); err != nil {
		c.timeline.Remove(msg.ID)
		metrics.Provisional.WithLabelValues("rolled_back").Inc()
		c.log.Warn("send failed, withdrawing provisional message",
			zap.Int64("channel", channelID), zap.Error(err))
		return wire.Message{}, err
	}
	return msg, nil
}
