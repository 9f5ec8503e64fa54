package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The backend is fed by two producers that disagree on key casing
// (channelId vs ChannelId). Everything crossing the transport boundary goes
// through fields, which indexes keys case-insensitively, so the rest of the
// SDK only ever sees canonical types.

// ErrNotObject is returned when a payload expected to be a JSON object is not.
var ErrNotObject = errors.New("wire: payload is not a JSON object")

type fields map[string]json.RawMessage

func decodeFields(raw json.RawMessage) (fields, error) {
	raw = bytes.TrimSpace(raw)
	// Some producers ship nested objects as JSON-encoded strings.
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		raw = []byte(s)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, ErrNotObject
	}
	if m == nil {
		return nil, ErrNotObject
	}
	f := make(fields, len(m))
	for k, v := range m {
		f[strings.ToLower(k)] = v
	}
	return f, nil
}

func (f fields) raw(keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := f[strings.ToLower(k)]; ok && !isNull(v) {
			return v
		}
	}
	return nil
}

func (f fields) has(keys ...string) bool {
	return f.raw(keys...) != nil
}

func (f fields) str(keys ...string) string {
	v := f.raw(keys...)
	if v == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	// numbers and booleans used as identifiers
	return string(v)
}

func (f fields) int64(keys ...string) int64 {
	v := f.raw(keys...)
	if v == nil {
		return 0
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if fl, err := n.Float64(); err == nil {
			return int64(fl)
		}
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i
		}
	}
	return 0
}

func (f fields) float(keys ...string) float64 {
	v := f.raw(keys...)
	if v == nil {
		return 0
	}
	var fl float64
	if err := json.Unmarshal(v, &fl); err == nil {
		return fl
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if fl, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return fl
		}
	}
	return 0
}

func (f fields) bool(keys ...string) bool {
	v := f.raw(keys...)
	if v == nil {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		b, _ = strconv.ParseBool(s)
	}
	return b
}

func (f fields) time(keys ...string) time.Time {
	v := f.raw(keys...)
	if v == nil {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		var ms int64
		if err := json.Unmarshal(v, &ms); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	return ParseTime(s)
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// timeLayouts are tried in order. Zone-less timestamps are taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp formats the backend emits. It returns the
// zero time when s matches none of them.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var messageTypeByKey = map[string]MessageType{
	"text":            MessageText,
	"bookingrequest":  MessageBookingRequest,
	"bookingaccepted": MessageBookingAccepted,
	"bookingdeclined": MessageBookingDeclined,
	"meetinglink":     MessageMeetingLink,
}

// messageTypeByOrdinal follows the backend's enum declaration order.
var messageTypeByOrdinal = []MessageType{
	MessageText,
	MessageBookingRequest,
	MessageBookingAccepted,
	MessageBookingDeclined,
	MessageMeetingLink,
}

// ParseMessageType accepts kebab, snake, camel and Pascal spellings as well
// as the numeric enum. Anything unknown renders as plain text.
func ParseMessageType(v json.RawMessage) MessageType {
	if isNull(v) {
		return MessageText
	}
	var n int
	if err := json.Unmarshal(v, &n); err == nil {
		if n >= 0 && n < len(messageTypeByOrdinal) {
			return messageTypeByOrdinal[n]
		}
		return MessageText
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return MessageText
	}
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s))
	if t, ok := messageTypeByKey[key]; ok {
		return t
	}
	return MessageText
}

// NormalizeMessage converts a message payload from either producer into a
// canonical Message.
func NormalizeMessage(raw json.RawMessage) (Message, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return Message{}, fmt.Errorf("normalize message: %w", err)
	}
	msg := Message{
		ID:         f.int64("id", "messageId"),
		ChannelID:  f.int64("channelId", "chatChannelId"),
		SenderID:   f.str("senderId", "userId"),
		SenderName: f.str("senderName", "userName"),
		Content:    f.str("content", "text", "body"),
		Type:       ParseMessageType(f.raw("messageType", "type")),
		CreatedAt:  f.time("createdAt", "sentAt", "timestamp"),
	}
	if meta := f.raw("metadata"); meta != nil {
		md, err := NormalizeMetadata(meta)
		if err == nil {
			msg.Metadata = md
		}
	}
	return msg, nil
}

// NormalizeMessages converts a history page. It accepts a bare array or an
// object wrapping one under items/messages/data.
func NormalizeMessages(raw json.RawMessage) ([]Message, error) {
	items, err := listItems(raw, "items", "messages", "data")
	if err != nil {
		return nil, fmt.Errorf("normalize messages: %w", err)
	}
	out := make([]Message, 0, len(items))
	for _, item := range items {
		msg, err := NormalizeMessage(item)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// NormalizeMetadata parses message metadata given as an object or as a
// JSON-encoded string. Booking fields may be nested under "booking" or sit
// at the top level.
func NormalizeMetadata(raw json.RawMessage) (*Metadata, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		MeetingURL: f.str("meetingUrl", "meetingLink", "url"),
		Raw:        append(json.RawMessage(nil), raw...),
	}
	if nested := f.raw("booking", "bookingSnapshot"); nested != nil {
		if bf, err := decodeFields(nested); err == nil {
			md.Booking = bookingSnapshot(bf)
		}
	} else if f.has("bookingId") {
		md.Booking = bookingSnapshot(f)
	}
	return md, nil
}

func bookingSnapshot(f fields) *BookingSnapshot {
	return &BookingSnapshot{
		BookingID:    f.int64("bookingId", "id"),
		Subject:      f.str("subject", "subjectName"),
		Price:        f.float("price", "totalPrice", "amount"),
		Currency:     f.str("currency"),
		StartTime:    f.time("startTime", "scheduledStart"),
		EndTime:      f.time("endTime", "scheduledEnd"),
		PackageName:  f.str("packageName", "package"),
		SessionCount: int(f.int64("sessionCount", "numberOfSessions")),
		Status:       NormalizeStatus(f.str("status", "bookingStatus")),
	}
}

// NormalizeStatus maps status spellings (AwaitingTutor, awaiting_tutor,
// "Awaiting Tutor") to the kebab-case constants.
func NormalizeStatus(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		switch {
		case r == '_' || r == ' ' || r == '-':
			b.WriteByte('-')
			prevLower = false
		case r >= 'A' && r <= 'Z':
			if prevLower {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = r >= 'a' && r <= 'z'
		}
	}
	return b.String()
}

// NormalizeChannel converts a channel payload into a canonical Channel.
func NormalizeChannel(raw json.RawMessage) (Channel, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return Channel{}, fmt.Errorf("normalize channel: %w", err)
	}
	return Channel{
		ID:                 f.int64("id", "channelId"),
		BookingID:          f.int64("bookingId"),
		CounterpartyID:     f.str("counterpartyId", "otherUserId", "participantId"),
		CounterpartyName:   f.str("counterpartyName", "otherUserName", "participantName", "name"),
		CounterpartyAvatar: f.str("counterpartyAvatar", "otherUserAvatar", "avatarUrl", "avatar"),
		Status:             NormalizeStatus(f.str("status", "bookingStatus")),
		LastMessageAt:      f.time("lastMessageAt", "lastMessageTime", "updatedAt"),
		LastMessagePreview: f.str("lastMessagePreview", "lastMessage", "preview"),
	}, nil
}

// NormalizeChannels converts a channel list payload.
func NormalizeChannels(raw json.RawMessage) ([]Channel, error) {
	items, err := listItems(raw, "items", "channels", "data")
	if err != nil {
		return nil, fmt.Errorf("normalize channels: %w", err)
	}
	out := make([]Channel, 0, len(items))
	for _, item := range items {
		ch, err := NormalizeChannel(item)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// NormalizeBooking converts a booking payload.
func NormalizeBooking(raw json.RawMessage) (Booking, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return Booking{}, fmt.Errorf("normalize booking: %w", err)
	}
	return Booking{
		ID:          f.int64("id", "bookingId"),
		Status:      NormalizeStatus(f.str("status", "bookingStatus")),
		ParentID:    f.str("parentId", "studentId"),
		ParentName:  f.str("parentName", "studentName"),
		TutorID:     f.str("tutorId"),
		TutorName:   f.str("tutorName"),
		Subject:     f.str("subject", "subjectName"),
		PackageName: f.str("packageName", "package"),
		Price:       f.float("price", "totalPrice", "amount"),
		Currency:    f.str("currency"),
		StartTime:   f.time("startTime", "scheduledStart"),
		EndTime:     f.time("endTime", "scheduledEnd"),
	}, nil
}

// NormalizePaymentInfo converts a payment-info payload.
func NormalizePaymentInfo(raw json.RawMessage) (PaymentInfo, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return PaymentInfo{}, fmt.Errorf("normalize payment info: %w", err)
	}
	phase := PhaseDeposit
	if p := strings.ToLower(f.str("paymentPhase", "phase")); strings.HasPrefix(p, "remain") || p == "final" || p == "1" {
		phase = PhaseRemaining
	}
	return PaymentInfo{
		BookingID:     f.int64("bookingId", "id"),
		Amount:        f.float("amount", "amountDue"),
		Currency:      f.str("currency"),
		Phase:         phase,
		WalletBalance: f.float("walletBalance", "balance"),
		CanUseWallet:  f.bool("canUseWallet", "canPayWithWallet"),
		CheckoutURL:   f.str("checkoutUrl", "paymentUrl", "url"),
	}, nil
}

// NormalizePaymentStatus converts a payment-status payload.
func NormalizePaymentStatus(raw json.RawMessage) (PaymentStatus, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("normalize payment status: %w", err)
	}
	return PaymentStatus{
		BookingID:     f.int64("bookingId", "id"),
		DepositPaid:   f.bool("depositPaid", "isDepositPaid"),
		RemainingPaid: f.bool("remainingPaid", "isRemainingPaid"),
		FullyPaid:     f.bool("fullyPaid", "isFullyPaid"),
	}, nil
}

// NormalizeNotification converts a notification payload.
func NormalizeNotification(raw json.RawMessage) (Notification, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return Notification{}, fmt.Errorf("normalize notification: %w", err)
	}
	return Notification{
		ID:        f.int64("id", "notificationId"),
		Title:     f.str("title"),
		Body:      f.str("body", "message", "content"),
		Kind:      f.str("kind", "type"),
		Read:      f.bool("read", "isRead"),
		CreatedAt: f.time("createdAt"),
	}, nil
}

// NormalizeNotifications converts a notification list payload.
func NormalizeNotifications(raw json.RawMessage) ([]Notification, error) {
	items, err := listItems(raw, "items", "notifications", "data")
	if err != nil {
		return nil, fmt.Errorf("normalize notifications: %w", err)
	}
	out := make([]Notification, 0, len(items))
	for _, item := range items {
		n, err := NormalizeNotification(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// NormalizeUserEvent converts a userJoined/userLeft payload, which is
// either a bare user id or an object.
func NormalizeUserEvent(raw json.RawMessage) (UserEvent, error) {
	f, err := decodeFields(raw)
	if err != nil {
		var id string
		if json.Unmarshal(raw, &id) == nil {
			return UserEvent{UserID: id}, nil
		}
		return UserEvent{}, fmt.Errorf("normalize user event: %w", err)
	}
	return UserEvent{
		ChannelID: f.int64("channelId"),
		UserID:    f.str("userId", "id"),
		UserName:  f.str("userName", "name"),
	}, nil
}

// NormalizeUserEventArgs reads the arguments of userJoined / userLeft.
// Servers send either one user object (or id), or the positional pair
// (channelId, user).
func NormalizeUserEventArgs(args []json.RawMessage) (UserEvent, error) {
	if len(args) == 0 {
		return UserEvent{}, errors.New("normalize user event: no arguments")
	}
	if len(args) > 1 {
		if ch, ok := channelIDArg(args[0]); ok {
			ev, err := NormalizeUserEvent(args[1])
			if err != nil {
				return UserEvent{}, err
			}
			ev.ChannelID = ch
			return ev, nil
		}
	}
	return NormalizeUserEvent(args[0])
}

// channelIDArg accepts a JSON number or a numeric string.
func channelIDArg(raw json.RawMessage) (int64, bool) {
	var n int64
	if json.Unmarshal(raw, &n) == nil {
		return n, true
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// NormalizeCount reads an unread-count payload: a bare number or an object
// with count/unreadCount.
func NormalizeCount(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	f, err := decodeFields(raw)
	if err != nil {
		return 0, fmt.Errorf("normalize count: %w", err)
	}
	return int(f.int64("count", "unreadCount")), nil
}

func listItems(raw json.RawMessage, keys ...string) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	f, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	inner := f.raw(keys...)
	if inner == nil {
		return nil, nil
	}
	if err := json.Unmarshal(inner, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Unwrap strips a {"data": ...} envelope (any casing) when the response
// uses one; a bare payload is returned unchanged.
func Unwrap(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	f, err := decodeFields(trimmed)
	if err != nil {
		return raw
	}
	if inner := f.raw("data"); inner != nil {
		// An envelope carries bookkeeping keys only beside data.
		for k := range f {
			switch k {
			case "data", "success", "message", "succeeded", "errors", "statuscode":
			default:
				return raw
			}
		}
		return inner
	}
	return raw
}

// ErrorBody extracts the code and message from an error response body.
// Accepts {code,message}, {errorCode,error}, and problem-details shapes.
func ErrorBody(raw json.RawMessage) (code, message string) {
	f, err := decodeFields(raw)
	if err != nil {
		return "", strings.TrimSpace(string(raw))
	}
	if inner := f.raw("error"); inner != nil && bytes.HasPrefix(bytes.TrimSpace(inner), []byte("{")) {
		if nested, err := decodeFields(inner); err == nil {
			f = nested
		}
	}
	code = f.str("code", "errorCode")
	message = f.str("message", "error", "detail", "title")
	return code, message
}
