package tutorhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/metrics"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// APIConfig holds REST client parameters.
type APIConfig struct {
	BaseURL            string // e.g. "https://api.example.com"
	AccessTokenFactory TokenFactory

	RequestsPerSecond float64 // client-side rate limit; default 10
	Burst             int     // default 20
}

// APIOption configures an APIClient.
type APIOption func(*APIClient)

// WithAPILogger sets the REST client's logger.
func WithAPILogger(l *logger.Logger) APIOption {
	return func(c *APIClient) { c.log = logger.OrNop(l).Named("api") }
}

// WithAPIHTTPClient sets the underlying HTTP client. Its transport is used
// as is; response decompression is only added to the default client.
func WithAPIHTTPClient(h *http.Client) APIOption {
	return func(c *APIClient) { c.http = h }
}

// APIClient communicates with the marketplace REST API. It works
// independently of the hub Client; no live connection is needed.
type APIClient struct {
	baseURL  string
	token    TokenFactory
	http     *http.Client
	limiter  *rate.Limiter
	validate *validator.Validate
	log      *logger.Logger
}

// NewAPIClient creates a REST client.
func NewAPIClient(cfg APIConfig, opts ...APIOption) (*APIClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url not configured")
	}
	if cfg.AccessTokenFactory == nil {
		return nil, fmt.Errorf("access token factory not configured")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}

	c := &APIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessTokenFactory,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		validate: validator.New(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API server URL.
func (c *APIClient) BaseURL() string { return c.baseURL }

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// authedRequest creates an HTTP request carrying the bearer token.
func (c *APIClient) authedRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	if token == "" {
		return nil, ErrNoCredential
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON sends an authed request and returns the response payload with any
// {"data": ...} envelope removed. Non-2xx responses become *APIError.
func (c *APIClient) doJSON(ctx context.Context, method, path string, reqBody any) (json.RawMessage, error) {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := c.authedRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordRequest(method, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordRequest(method, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, msg := wire.ErrorBody(b)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Code:       code,
			Message:    msg,
			Method:     method,
			Path:       path,
		}
		c.log.Debug("api error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", code))
		return nil, apiErr
	}

	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	return wire.Unwrap(b), nil
}

func pageQuery(p Page) string {
	p = p.normalized()
	params := url.Values{}
	params.Set("page", strconv.Itoa(p.Page))
	params.Set("pageSize", strconv.Itoa(p.PageSize))
	return "?" + params.Encode()
}

func idPath(id int64) string { return strconv.FormatInt(id, 10) }

// --------------------------------------------------------------------------
// Chat
// --------------------------------------------------------------------------

// ListChannels fetches the signed-in user's conversations in server order.
func (c *APIClient) ListChannels(ctx context.Context) ([]Channel, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "/api/chat/channels", nil)
	if err != nil {
		return nil, err
	}
	return wire.NormalizeChannels(raw)
}

// ListMessages fetches one page of a channel's history, newest first.
func (c *APIClient) ListMessages(ctx context.Context, channelID int64, p Page) ([]Message, error) {
	path := "/api/chat/channels/" + idPath(channelID) + "/messages" + pageQuery(p)
	raw, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return wire.NormalizeMessages(raw)
}

// --------------------------------------------------------------------------
// Bookings
// --------------------------------------------------------------------------

// GetBooking fetches the authoritative booking record.
func (c *APIClient) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "/api/bookings/"+idPath(id), nil)
	if err != nil {
		return nil, err
	}
	b, err := wire.NormalizeBooking(raw)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// AcceptBooking accepts a booking request (tutor only).
func (c *APIClient) AcceptBooking(ctx context.Context, id int64) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/bookings/"+idPath(id)+"/accept", struct{}{})
	return err
}

// DeclineBooking declines a booking request with a reason (tutor only).
func (c *APIClient) DeclineBooking(ctx context.Context, id int64, reason string) error {
	req := wire.DeclineRequest{Reason: strings.TrimSpace(reason)}
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid decline request: %w", err)
	}
	_, err := c.doJSON(ctx, http.MethodPost, "/api/bookings/"+idPath(id)+"/decline", req)
	return err
}

// --------------------------------------------------------------------------
// Payments
// --------------------------------------------------------------------------

// GetPaymentInfo fetches what is due for a booking and the checkout URL.
// A booking that is already paid or expired is reported as an *APIError
// with the matching Code.
func (c *APIClient) GetPaymentInfo(ctx context.Context, bookingID int64) (*PaymentInfo, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "/api/payments/"+idPath(bookingID)+"/info", nil)
	if err != nil {
		return nil, err
	}
	info, err := wire.NormalizePaymentInfo(raw)
	if err != nil {
		return nil, err
	}
	if info.BookingID == 0 {
		info.BookingID = bookingID
	}
	return &info, nil
}

// GetPaymentStatus fetches which phases of a booking have been paid.
func (c *APIClient) GetPaymentStatus(ctx context.Context, bookingID int64) (*PaymentStatus, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "/api/payments/"+idPath(bookingID)+"/status", nil)
	if err != nil {
		return nil, err
	}
	st, err := wire.NormalizePaymentStatus(raw)
	if err != nil {
		return nil, err
	}
	if st.BookingID == 0 {
		st.BookingID = bookingID
	}
	return &st, nil
}

// PayWithWallet settles a payment phase from the wallet balance.
func (c *APIClient) PayWithWallet(ctx context.Context, bookingID int64, phase PaymentPhase, amount float64) error {
	req := wire.WalletPaymentRequest{BookingID: bookingID, Phase: phase, Amount: amount}
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid wallet payment: %w", err)
	}
	_, err := c.doJSON(ctx, http.MethodPost, "/api/payments/"+idPath(bookingID)+"/wallet", req)
	return err
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

// ListNotifications fetches one page of the notification feed.
func (c *APIClient) ListNotifications(ctx context.Context, p Page) ([]Notification, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "/api/notifications"+pageQuery(p), nil)
	if err != nil {
		return nil, err
	}
	return wire.NormalizeNotifications(raw)
}

// UnreadCount fetches the number of unread notifications.
func (c *APIClient) UnreadCount(ctx context.Context) (int, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "/api/notifications/unread-count", nil)
	if err != nil {
		return 0, err
	}
	return wire.NormalizeCount(raw)
}

// MarkRead marks one notification as read.
func (c *APIClient) MarkRead(ctx context.Context, id int64) error {
	_, err := c.doJSON(ctx, http.MethodPut, "/api/notifications/"+idPath(id)+"/read", struct{}{})
	return err
}

// MarkAllRead marks every notification as read.
func (c *APIClient) MarkAllRead(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodPut, "/api/notifications/read-all", struct{}{})
	return err
}

// DeleteNotification removes a notification.
func (c *APIClient) DeleteNotification(ctx context.Context, id int64) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/api/notifications/"+idPath(id), nil)
	return err
}
