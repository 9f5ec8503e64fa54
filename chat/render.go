package chat

import (
	"regexp"
	"strings"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// Card is the view model a message renders as. The concrete type is one of
// BubbleCard, BookingRequestCard, BookingStatusCard or MeetingLinkCard.
type Card interface {
	Message() wire.Message
}

// BubbleCard is a plain chat bubble.
type BubbleCard struct {
	Msg  wire.Message
	Mine bool
}

// BookingRequestCard shows a booking request. Only the tutor may answer it.
type BookingRequestCard struct {
	Msg        wire.Message
	Booking    *wire.BookingSnapshot
	CanRespond bool
}

// BookingStatusCard shows the outcome of a booking request. CanPay is set
// for the parent when the booking was accepted.
type BookingStatusCard struct {
	Msg      wire.Message
	Booking  *wire.BookingSnapshot
	Accepted bool
	CanPay   bool
}

// MeetingLinkCard surfaces the meeting URL of a message.
type MeetingLinkCard struct {
	Msg wire.Message
	URL string
}

func (c BubbleCard) Message() wire.Message         { return c.Msg }
func (c BookingRequestCard) Message() wire.Message { return c.Msg }
func (c BookingStatusCard) Message() wire.Message  { return c.Msg }
func (c MeetingLinkCard) Message() wire.Message    { return c.Msg }

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// FirstURL returns the first http(s) URL in s, without trailing
// punctuation, or "".
func FirstURL(s string) string {
	u := urlPattern.FindString(s)
	return strings.TrimRight(u, ".,;:!?)]}")
}

// Render picks the card for msg as seen by viewer.
func Render(msg wire.Message, viewer tutorhub.Identity) Card {
	var booking *wire.BookingSnapshot
	if msg.Metadata != nil {
		booking = msg.Metadata.Booking
	}

	switch msg.Type {
	case wire.MessageBookingRequest:
		return BookingRequestCard{
			Msg:        msg,
			Booking:    booking,
			CanRespond: viewer.Role == tutorhub.RoleTutor,
		}

	case wire.MessageBookingAccepted, wire.MessageBookingDeclined:
		accepted := msg.Type == wire.MessageBookingAccepted
		return BookingStatusCard{
			Msg:      msg,
			Booking:  booking,
			Accepted: accepted,
			CanPay:   accepted && viewer.Role == tutorhub.RoleParent,
		}

	case wire.MessageMeetingLink:
		u := FirstURL(msg.Content)
		if u == "" && msg.Metadata != nil {
			u = msg.Metadata.MeetingURL
		}
		return MeetingLinkCard{Msg: msg, URL: u}
	}

	return BubbleCard{Msg: msg, Mine: msg.SenderID != "" && msg.SenderID == viewer.UserID}
}
