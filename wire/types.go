package wire

import (
	"encoding/json"
	"time"
)

// MessageType tags the variant a message renders as.
type MessageType string

const (
	MessageText            MessageType = "text"
	MessageBookingRequest  MessageType = "booking-request"
	MessageBookingAccepted MessageType = "booking-accepted"
	MessageBookingDeclined MessageType = "booking-declined"
	MessageMeetingLink     MessageType = "meeting-link"
)

// Message is one unit of conversation content.
type Message struct {
	ID         int64       `json:"id"`
	ChannelID  int64       `json:"channelId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"messageType"`
	CreatedAt  time.Time   `json:"createdAt"`
	Metadata   *Metadata   `json:"metadata,omitempty"`

	// Client-side only.
	Provisional bool `json:"-"`
}

// Metadata is the structured part of a message.
type Metadata struct {
	Booking    *BookingSnapshot `json:"booking,omitempty"`
	MeetingURL string           `json:"meetingUrl,omitempty"`
	Raw        json.RawMessage  `json:"-"`
}

// BookingSnapshot is a point-in-time copy of a booking carried in message
// metadata. It may be stale; the live record is fetched separately.
type BookingSnapshot struct {
	BookingID    int64     `json:"bookingId"`
	Subject      string    `json:"subject,omitempty"`
	Price        float64   `json:"price"`
	Currency     string    `json:"currency,omitempty"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	PackageName  string    `json:"packageName,omitempty"`
	SessionCount int       `json:"sessionCount,omitempty"`
	Status       string    `json:"status,omitempty"`
}

// Channel is a conversation between two parties scoped to one booking.
type Channel struct {
	ID                 int64     `json:"id"`
	BookingID          int64     `json:"bookingId"`
	CounterpartyID     string    `json:"counterpartyId"`
	CounterpartyName   string    `json:"counterpartyName"`
	CounterpartyAvatar string    `json:"counterpartyAvatar,omitempty"`
	Status             string    `json:"status"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	LastMessagePreview string    `json:"lastMessagePreview,omitempty"`
}

// Booking statuses as reported by the backend.
const (
	BookingAwaitingTutor = "awaiting-tutor"
	BookingAccepted      = "accepted"
	BookingDeclined      = "declined"
	BookingPaid          = "paid"
	BookingExpired       = "expired"
	BookingCancelled     = "cancelled"
)

// Booking is the authoritative booking record.
type Booking struct {
	ID          int64     `json:"id"`
	Status      string    `json:"status"`
	ParentID    string    `json:"parentId"`
	ParentName  string    `json:"parentName,omitempty"`
	TutorID     string    `json:"tutorId"`
	TutorName   string    `json:"tutorName,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	PackageName string    `json:"packageName,omitempty"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

// PaymentPhase distinguishes the deposit from the remaining balance.
type PaymentPhase string

const (
	PhaseDeposit   PaymentPhase = "deposit"
	PhaseRemaining PaymentPhase = "remaining"
)

// PaymentInfo describes what is due for a booking right now.
type PaymentInfo struct {
	BookingID     int64        `json:"bookingId"`
	Amount        float64      `json:"amount"`
	Currency      string       `json:"currency,omitempty"`
	Phase         PaymentPhase `json:"paymentPhase"`
	WalletBalance float64      `json:"walletBalance"`
	CanUseWallet  bool         `json:"canUseWallet"`
	CheckoutURL   string       `json:"checkoutUrl,omitempty"`
}

// PaymentStatus reports which parts of a booking have been paid.
type PaymentStatus struct {
	BookingID     int64 `json:"bookingId"`
	DepositPaid   bool  `json:"depositPaid"`
	RemainingPaid bool  `json:"remainingPaid"`
	FullyPaid     bool  `json:"fullyPaid"`
}

// PaidFor reports whether the given phase has been settled.
func (s PaymentStatus) PaidFor(phase PaymentPhase) bool {
	if s.FullyPaid {
		return true
	}
	switch phase {
	case PhaseDeposit:
		return s.DepositPaid
	case PhaseRemaining:
		return s.RemainingPaid
	}
	return false
}

// Notification is an entry in the signed-in user's notification feed.
type Notification struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserEvent is the payload of userJoined / userLeft.
type UserEvent struct {
	ChannelID int64  `json:"channelId,omitempty"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
}
