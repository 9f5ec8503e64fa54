package tutorhub

import "github.com/tutorhub/tutorhub-go-sdk/wire"

// Canonical resource types, re-exported so callers need only this package.
type (
	Message         = wire.Message
	MessageType     = wire.MessageType
	Metadata        = wire.Metadata
	BookingSnapshot = wire.BookingSnapshot
	Channel         = wire.Channel
	Booking         = wire.Booking
	PaymentPhase    = wire.PaymentPhase
	PaymentInfo     = wire.PaymentInfo
	PaymentStatus   = wire.PaymentStatus
	Notification    = wire.Notification
	UserEvent       = wire.UserEvent
)

const (
	MessageText            = wire.MessageText
	MessageBookingRequest  = wire.MessageBookingRequest
	MessageBookingAccepted = wire.MessageBookingAccepted
	MessageBookingDeclined = wire.MessageBookingDeclined
	MessageMeetingLink     = wire.MessageMeetingLink

	PhaseDeposit   = wire.PhaseDeposit
	PhaseRemaining = wire.PhaseRemaining
)

// Page is a 1-based page request. Zero values fall back to the defaults.
type Page struct {
	Page     int
	PageSize int
}

// DefaultPageSize is the history page size when none is given.
const DefaultPageSize = 20

func (p Page) normalized() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	return p
}
