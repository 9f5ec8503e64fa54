package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessageCamelAndPascal(t *testing.T) {
	camel := `{"id":12,"channelId":3,"senderId":"u-1","senderName":"Ann","content":"hi","messageType":"text","createdAt":"2024-05-01T10:00:00Z"}`
	pascal := `{"Id":12,"ChannelId":3,"SenderId":"u-1","SenderName":"Ann","Content":"hi","MessageType":"Text","CreatedAt":"2024-05-01T10:00:00Z"}`

	a, err := NormalizeMessage(json.RawMessage(camel))
	require.NoError(t, err)
	b, err := NormalizeMessage(json.RawMessage(pascal))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int64(12), a.ID)
	assert.Equal(t, int64(3), a.ChannelID)
	assert.Equal(t, "u-1", a.SenderID)
	assert.Equal(t, MessageText, a.Type)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), a.CreatedAt)
}

func TestNormalizeMessageZonelessTimeIsUTC(t *testing.T) {
	msg, err := NormalizeMessage(json.RawMessage(`{"id":1,"createdAt":"2024-05-01T10:00:00.1234567"}`))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, msg.CreatedAt.Location())
	assert.Equal(t, 10, msg.CreatedAt.Hour())
}

func TestParseMessageType(t *testing.T) {
	cases := map[string]MessageType{
		`"booking-request"`:  MessageBookingRequest,
		`"BookingRequest"`:   MessageBookingRequest,
		`"booking_accepted"`: MessageBookingAccepted,
		`"BookingDeclined"`:  MessageBookingDeclined,
		`"meetingLink"`:      MessageMeetingLink,
		`4`:                  MessageMeetingLink,
		`0`:                  MessageText,
		`99`:                 MessageText,
		`"sticker"`:          MessageText,
		`null`:               MessageText,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseMessageType(json.RawMessage(in)), in)
	}
}

func TestNormalizeMetadataStringEncoded(t *testing.T) {
	raw := `{"id":5,"channelId":1,"messageType":"BookingRequest","metadata":"{\"BookingId\":77,\"Price\":120.5,\"PackageName\":\"Starter\",\"Status\":\"AwaitingTutor\"}"}`

	msg, err := NormalizeMessage(json.RawMessage(raw))
	require.NoError(t, err)
	require.NotNil(t, msg.Metadata)
	require.NotNil(t, msg.Metadata.Booking)
	assert.Equal(t, int64(77), msg.Metadata.Booking.BookingID)
	assert.Equal(t, 120.5, msg.Metadata.Booking.Price)
	assert.Equal(t, "Starter", msg.Metadata.Booking.PackageName)
	assert.Equal(t, BookingAwaitingTutor, msg.Metadata.Booking.Status)
}

func TestNormalizeMetadataNestedBooking(t *testing.T) {
	md, err := NormalizeMetadata(json.RawMessage(`{"booking":{"bookingId":"9","price":"40"},"meetingUrl":"https://meet.example.com/x"}`))
	require.NoError(t, err)
	require.NotNil(t, md.Booking)
	assert.Equal(t, int64(9), md.Booking.BookingID)
	assert.Equal(t, 40.0, md.Booking.Price)
	assert.Equal(t, "https://meet.example.com/x", md.MeetingURL)
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"AwaitingTutor":  BookingAwaitingTutor,
		"awaiting_tutor": BookingAwaitingTutor,
		"Awaiting Tutor": BookingAwaitingTutor,
		"awaiting-tutor": BookingAwaitingTutor,
		"ACCEPTED":       BookingAccepted,
		"Accepted":       BookingAccepted,
		"":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeStatus(in), in)
	}
}

func TestNormalizeChannelsWrapped(t *testing.T) {
	raw := `{"Items":[{"Id":1,"BookingId":10,"OtherUserName":"Tutor A","LastMessage":"see you"},{"id":2,"bookingId":11,"counterpartyName":"Tutor B"}]}`

	chs, err := NormalizeChannels(json.RawMessage(raw))
	require.NoError(t, err)
	require.Len(t, chs, 2)
	assert.Equal(t, "Tutor A", chs[0].CounterpartyName)
	assert.Equal(t, "see you", chs[0].LastMessagePreview)
	assert.Equal(t, int64(11), chs[1].BookingID)
}

func TestNormalizePaymentInfoPhase(t *testing.T) {
	info, err := NormalizePaymentInfo(json.RawMessage(`{"BookingId":4,"Amount":50,"PaymentPhase":"Remaining","CanUseWallet":true,"CheckoutUrl":"https://pay.example.com/s/1"}`))
	require.NoError(t, err)
	assert.Equal(t, PhaseRemaining, info.Phase)
	assert.True(t, info.CanUseWallet)
	assert.Equal(t, "https://pay.example.com/s/1", info.CheckoutURL)

	info, err = NormalizePaymentInfo(json.RawMessage(`{"bookingId":4,"amount":20}`))
	require.NoError(t, err)
	assert.Equal(t, PhaseDeposit, info.Phase)
}

func TestPaymentStatusPaidFor(t *testing.T) {
	s := PaymentStatus{DepositPaid: true}
	assert.True(t, s.PaidFor(PhaseDeposit))
	assert.False(t, s.PaidFor(PhaseRemaining))
	assert.True(t, PaymentStatus{FullyPaid: true}.PaidFor(PhaseRemaining))
}

func TestNormalizeUserEvent(t *testing.T) {
	ev, err := NormalizeUserEvent(json.RawMessage(`"user-7"`))
	require.NoError(t, err)
	assert.Equal(t, "user-7", ev.UserID)

	ev, err = NormalizeUserEvent(json.RawMessage(`{"UserId":"user-8","ChannelId":3}`))
	require.NoError(t, err)
	assert.Equal(t, "user-8", ev.UserID)
	assert.Equal(t, int64(3), ev.ChannelID)
}

func TestNormalizeUserEventArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want UserEvent
	}{
		{"object", []string{`{"userId":"u-1","channelId":4}`}, UserEvent{ChannelID: 4, UserID: "u-1"}},
		{"bare id", []string{`"u-1"`}, UserEvent{UserID: "u-1"}},
		{"channel number then id", []string{`4`, `"u-1"`}, UserEvent{ChannelID: 4, UserID: "u-1"}},
		{"channel string then object", []string{`"4"`, `{"userId":"u-1","userName":"Ada"}`}, UserEvent{ChannelID: 4, UserID: "u-1", UserName: "Ada"}},
		{"object then extra", []string{`{"userId":"u-1"}`, `"x"`}, UserEvent{UserID: "u-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := make([]json.RawMessage, len(tt.args))
			for i, a := range tt.args {
				args[i] = json.RawMessage(a)
			}
			got, err := NormalizeUserEventArgs(args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NormalizeUserEventArgs(nil)
	assert.Error(t, err)
	_, err = NormalizeUserEventArgs([]json.RawMessage{json.RawMessage(`12`)})
	assert.Error(t, err)
}

func TestNormalizeCount(t *testing.T) {
	n, err := NormalizeCount(json.RawMessage(`7`))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = NormalizeCount(json.RawMessage(`{"UnreadCount":3}`))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestNormalizeMessageRejectsNonObject(t *testing.T) {
	_, err := NormalizeMessage(json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestUnwrap(t *testing.T) {
	assert.JSONEq(t, `[1,2]`, string(Unwrap(json.RawMessage(`{"Data":[1,2],"Success":true}`))))
	assert.JSONEq(t, `{"id":1,"data":"x","name":"n"}`, string(Unwrap(json.RawMessage(`{"id":1,"data":"x","name":"n"}`))))
	assert.JSONEq(t, `[3]`, string(Unwrap(json.RawMessage(`[3]`))))
}

func TestErrorBody(t *testing.T) {
	code, msg := ErrorBody(json.RawMessage(`{"Code":"BOOKING_EXPIRED","Message":"too late"}`))
	assert.Equal(t, "BOOKING_EXPIRED", code)
	assert.Equal(t, "too late", msg)

	code, msg = ErrorBody(json.RawMessage(`{"error":{"errorCode":"BOOKING_ALREADY_PAID","message":"paid"}}`))
	assert.Equal(t, "BOOKING_ALREADY_PAID", code)
	assert.Equal(t, "paid", msg)

	code, msg = ErrorBody(json.RawMessage(`internal error`))
	assert.Empty(t, code)
	assert.Equal(t, "internal error", msg)
}
