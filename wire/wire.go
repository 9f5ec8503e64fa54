// Package wire defines the payload types exchanged with the tutoring
// marketplace backend: hub protocol records, REST resources, and the single
// normalization step that turns loosely-cased backend JSON into canonical
// Go values.
package wire

import "encoding/json"

// Hub method names (client -> server).
const (
	MethodJoinChannel  = "JoinChannel"
	MethodLeaveChannel = "LeaveChannel"
	MethodSendMessage  = "SendMessage"
)

// Hub event names (server -> client). Matching is case-insensitive.
const (
	EventMessageReceived = "messageReceived"
	EventUserJoined      = "userJoined"
	EventUserLeft        = "userLeft"
)

// Invocation is an outbound invocation record. An empty InvocationID makes
// it fire-and-forget.
type Invocation struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId,omitempty"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
}

// InboundInvocation is an invocation record sent by the server.
type InboundInvocation struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target"`
	Arguments    []json.RawMessage `json:"arguments"`
}

// Completion answers an invocation that carried an InvocationID.
type Completion struct {
	Type         int             `json:"type"`
	InvocationID string          `json:"invocationId"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Ping keeps the connection alive in both directions.
type Ping struct {
	Type int `json:"type"`
}

// Close is sent by the server before it drops the connection.
type Close struct {
	Type           int    `json:"type"`
	Error          string `json:"error,omitempty"`
	AllowReconnect bool   `json:"allowReconnect,omitempty"`
}

// NegotiateResponse is returned by POST {hub}/negotiate.
type NegotiateResponse struct {
	ConnectionID     string `json:"connectionId"`
	ConnectionToken  string `json:"connectionToken,omitempty"`
	NegotiateVersion int    `json:"negotiateVersion"`
	URL              string `json:"url,omitempty"`
	AccessToken      string `json:"accessToken,omitempty"`
	Error            string `json:"error,omitempty"`
}

// DeclineRequest is sent to POST /bookings/{id}/decline.
type DeclineRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// WalletPaymentRequest is sent to POST /payments/{bookingId}/wallet.
type WalletPaymentRequest struct {
	BookingID int64        `json:"bookingId" validate:"required,gt=0"`
	Phase     PaymentPhase `json:"paymentPhase" validate:"required,oneof=deposit remaining"`
	Amount    float64      `json:"amount" validate:"gt=0"`
}
