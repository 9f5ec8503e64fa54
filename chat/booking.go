package chat

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// ErrBookingNotPending is returned when accept or decline is attempted on a
// booking that is no longer awaiting the tutor.
var ErrBookingNotPending = errors.New("chat: booking is not awaiting a response")

// BookingCard tracks the live status of the booking behind a
// booking-request message. The snapshot in the message may be stale, so
// Mount fetches the authoritative record.
type BookingCard struct {
	bookings  Bookings
	bookingID int64
	log       *logger.Logger

	mu      sync.Mutex
	status  string
	booking *wire.Booking
	busy    bool
}

// NewBookingCard creates a card seeded from a message's booking snapshot.
func NewBookingCard(bookings Bookings, snap *wire.BookingSnapshot, log *logger.Logger) *BookingCard {
	c := &BookingCard{
		bookings: bookings,
		log:      logger.OrNop(log).Named("booking"),
	}
	if snap != nil {
		c.bookingID = snap.BookingID
		c.status = wire.NormalizeStatus(snap.Status)
	}
	return c
}

// BookingID returns the booking the card is bound to.
func (c *BookingCard) BookingID() int64 { return c.bookingID }

// Mount replaces the snapshot status with the server's.
func (c *BookingCard) Mount(ctx context.Context) error {
	if c.bookingID == 0 {
		return nil
	}
	b, err := c.bookings.GetBooking(ctx, c.bookingID)
	if err != nil {
		c.log.Warn("fetch booking failed, keeping snapshot status",
			zap.Int64("booking", c.bookingID), zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.booking = b
	if !c.busy {
		c.status = wire.NormalizeStatus(b.Status)
	}
	return nil
}

// Accept accepts the booking. The status flips immediately and is rolled
// back if the request fails.
func (c *BookingCard) Accept(ctx context.Context) error {
	return c.respond(wire.BookingAccepted, func() error {
		return c.bookings.AcceptBooking(ctx, c.bookingID)
	})
}

// Decline declines the booking with a reason, optimistically.
func (c *BookingCard) Decline(ctx context.Context, reason string) error {
	return c.respond(wire.BookingDeclined, func() error {
		return c.bookings.DeclineBooking(ctx, c.bookingID, reason)
	})
}

func (c *BookingCard) respond(next string, call func() error) error {
	c.mu.Lock()
	if c.busy || c.status != wire.BookingAwaitingTutor {
		c.mu.Unlock()
		return ErrBookingNotPending
	}
	prev := c.status
	c.status = next
	c.busy = true
	c.mu.Unlock()

	err := call()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		c.status = prev
		c.log.Warn("booking response failed, rolled back",
			zap.Int64("booking", c.bookingID), zap.String("to", next), zap.Error(err))
		return err
	}
	if c.booking != nil {
		c.booking.Status = next
	}
	return nil
}

// Status returns the displayed status.
func (c *BookingCard) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Booking returns the last fetched record, or nil before Mount.
func (c *BookingCard) Booking() *wire.Booking {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.booking == nil {
		return nil
	}
	b := *c.booking
	return &b
}
