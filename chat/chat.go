// Package chat implements the conversation view of the tutoring client:
// channel list filtering, the per-channel message timeline, the composer
// with optimistic sends, message rendering, and the booking card.
//
// The package holds no transport of its own. It drives a Hub (the real-time
// connection) and an API (the REST client), both satisfied by the root
// tutorhub package.
package chat

import (
	"context"
	"errors"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

var (
	// ErrEmptyMessage is returned by Composer.Send for blank content.
	ErrEmptyMessage = errors.New("chat: message is empty")

	// ErrNoActiveChannel is returned when an operation needs a selected
	// channel and none is selected.
	ErrNoActiveChannel = errors.New("chat: no active channel")

	// ErrStaleResponse is returned when a history response arrives after
	// the user has moved to another channel. The response is discarded.
	ErrStaleResponse = errors.New("chat: response for a previous channel selection")
)

// Hub is the real-time surface the chat layer drives.
type Hub interface {
	JoinChannel(ctx context.Context, channelID int64) error
	LeaveChannel(ctx context.Context, channelID int64) error
	SendMessage(ctx context.Context, channelID int64, content string) error
}

// History loads message pages.
type History interface {
	ListMessages(ctx context.Context, channelID int64, p tutorhub.Page) ([]wire.Message, error)
}

// ChannelLister loads the signed-in user's channels.
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]wire.Channel, error)
}

// Bookings reads and updates booking records.
type Bookings interface {
	GetBooking(ctx context.Context, id int64) (*wire.Booking, error)
	AcceptBooking(ctx context.Context, id int64) error
	DeclineBooking(ctx context.Context, id int64, reason string) error
}

var (
	_ Hub           = (*tutorhub.Client)(nil)
	_ History       = (*tutorhub.APIClient)(nil)
	_ ChannelLister = (*tutorhub.APIClient)(nil)
	_ Bookings      = (*tutorhub.APIClient)(nil)
)
