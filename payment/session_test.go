package payment

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

type fakeAPI struct {
	mu        sync.Mutex
	infoErr   error
	info      wire.PaymentInfo
	paid      bool
	walletErr error
	wallet    int
}

func (a *fakeAPI) GetPaymentInfo(ctx context.Context, bookingID int64) (*wire.PaymentInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.infoErr != nil {
		return nil, a.infoErr
	}
	info := a.info
	return &info, nil
}

func (a *fakeAPI) GetPaymentStatus(ctx context.Context, bookingID int64) (*wire.PaymentStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &wire.PaymentStatus{BookingID: bookingID, DepositPaid: a.paid}, nil
}

func (a *fakeAPI) PayWithWallet(ctx context.Context, bookingID int64, phase wire.PaymentPhase, amount float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wallet++
	return a.walletErr
}

func (a *fakeAPI) setPaid() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paid = true
}

type fakeLauncher struct {
	handle *ManualHandle
	url    string
}

func (l *fakeLauncher) Open(ctx context.Context, url string) (Handle, error) {
	l.url = url
	l.handle = &ManualHandle{}
	return l.handle, nil
}

type completions struct {
	n    atomic.Int32
	last atomic.Value
}

func (c *completions) record(o Outcome) {
	c.n.Add(1)
	c.last.Store(o)
}

func readyAPI() *fakeAPI {
	return &fakeAPI{info: wire.PaymentInfo{
		BookingID:     42,
		Amount:        30,
		Phase:         wire.PhaseDeposit,
		WalletBalance: 100,
		CanUseWallet:  true,
		CheckoutURL:   "https://pay.example.com/session/abc",
	}}
}

func newTestSession(api *fakeAPI, mb Mailbox, l Launcher, done *completions, poll time.Duration) *Session {
	return NewSession(api, mb, l, Config{
		BookingID:        42,
		PollInterval:     poll,
		TabCheckInterval: 10 * time.Millisecond,
		OnComplete:       done.record,
	}, nil)
}

func TestOpenMapsErrorCodes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      State
		completed int32
	}{
		{"ok", nil, StateReady, 0},
		{"already paid", &tutorhub.APIError{StatusCode: http.StatusBadRequest, Code: tutorhub.CodeBookingAlreadyPaid}, StateAlreadyPaid, 1},
		{"booking expired", &tutorhub.APIError{StatusCode: http.StatusBadRequest, Code: tutorhub.CodeBookingExpired}, StateExpired, 0},
		{"payment expired", &tutorhub.APIError{StatusCode: http.StatusGone, Code: tutorhub.CodePaymentExpired}, StateExpired, 0},
		{"conflict without code", &tutorhub.APIError{StatusCode: http.StatusConflict}, StateError, 0},
		{"network", errors.New("dial tcp: refused"), StateError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := readyAPI()
			api.infoErr = tt.err
			var done completions
			s := newTestSession(api, NewMemoryMailbox(), &fakeLauncher{}, &done, time.Hour)

			s.Open(context.Background())
			assert.Equal(t, tt.want, s.State())
			assert.Equal(t, tt.completed, done.n.Load())
		})
	}
}

func TestRetryOnlyFromError(t *testing.T) {
	api := readyAPI()
	api.infoErr = &tutorhub.APIError{StatusCode: http.StatusBadRequest, Code: tutorhub.CodeBookingExpired}
	var done completions
	s := newTestSession(api, NewMemoryMailbox(), &fakeLauncher{}, &done, time.Hour)
	ctx := context.Background()

	assert.Error(t, s.Open(ctx))
	assert.ErrorIs(t, s.Retry(ctx), ErrNotReady)
	assert.Equal(t, StateExpired, s.State())

	api.infoErr = errors.New("timeout")
	s.Close()
	assert.Error(t, s.Open(ctx))
	api.infoErr = nil
	require.NoError(t, s.Retry(ctx))
	assert.Equal(t, StateReady, s.State())
}

func TestThreeSignalsCompleteOnce(t *testing.T) {
	api := readyAPI()
	mb := NewMemoryMailbox()
	l := &fakeLauncher{}
	var done completions
	s := newTestSession(api, mb, l, &done, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.StartCheckout(ctx))
	assert.Equal(t, StateAwaitingExternal, s.State())
	assert.Equal(t, "https://pay.example.com/session/abc", l.url)

	// All three signals fire at once.
	require.NoError(t, mb.Set(ctx, ResultKey, Result{BookingID: 42, Status: StatusSuccess, Phase: wire.PhaseDeposit}.Encode()))
	api.setPaid()
	l.handle.MarkClosed()

	require.Eventually(t, func() bool { return s.State() == StateCompleted }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), done.n.Load())
	_, ok, _ := mb.Get(ctx, ResultKey)
	assert.False(t, ok, "mailbox key should be cleared")
	assert.Equal(t, int64(42), done.last.Load().(Outcome).BookingID)
}

func TestTabClosedWithoutResultReturnsToReady(t *testing.T) {
	api := readyAPI()
	l := &fakeLauncher{}
	var done completions
	s := newTestSession(api, NewMemoryMailbox(), l, &done, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.StartCheckout(ctx))
	l.handle.MarkClosed()

	require.Eventually(t, func() bool { return s.State() == StateReady }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), done.n.Load())

	// The user can try again.
	require.NoError(t, s.StartCheckout(ctx))
	assert.Equal(t, StateAwaitingExternal, s.State())
	s.Close()
	assert.Equal(t, StateIdle, s.State())
}

func TestResultForOtherBookingIsIgnored(t *testing.T) {
	api := readyAPI()
	mb := NewMemoryMailbox()
	l := &fakeLauncher{}
	var done completions
	s := newTestSession(api, mb, l, &done, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.StartCheckout(ctx))

	other := Result{BookingID: 99, Status: StatusSuccess}.Encode()
	require.NoError(t, mb.Set(ctx, ResultKey, other))
	l.handle.MarkClosed()

	require.Eventually(t, func() bool { return s.State() == StateReady }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), done.n.Load())
	v, ok, _ := mb.Get(ctx, ResultKey)
	assert.True(t, ok)
	assert.Equal(t, other, v)
}

func TestCancelledResultKeepsWaiting(t *testing.T) {
	api := readyAPI()
	mb := NewMemoryMailbox()
	var done completions
	s := newTestSession(api, mb, &fakeLauncher{}, &done, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.StartCheckout(ctx))
	require.NoError(t, mb.Set(ctx, ResultKey, Result{BookingID: 42, Status: StatusCancelled}.Encode()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateAwaitingExternal, s.State())
	assert.Equal(t, int32(0), done.n.Load())
	s.Close()
}

func TestPayWithWallet(t *testing.T) {
	api := readyAPI()
	var done completions
	s := newTestSession(api, NewMemoryMailbox(), &fakeLauncher{}, &done, time.Hour)
	ctx := context.Background()

	assert.ErrorIs(t, s.PayWithWallet(ctx), ErrNotReady)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.PayWithWallet(ctx))
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, int32(1), done.n.Load())
	assert.Equal(t, SignalWallet, done.last.Load().(Outcome).Signal)
}

func TestPayWithWalletInsufficientBalance(t *testing.T) {
	api := readyAPI()
	api.info.WalletBalance = 5
	var done completions
	s := newTestSession(api, NewMemoryMailbox(), &fakeLauncher{}, &done, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	assert.ErrorIs(t, s.PayWithWallet(ctx), ErrWalletUnavailable)
	assert.Equal(t, 0, api.wallet)
	assert.Equal(t, StateReady, s.State())
}

func TestStartCheckoutRequiresReady(t *testing.T) {
	var done completions
	s := newTestSession(readyAPI(), NewMemoryMailbox(), &fakeLauncher{}, &done, time.Hour)
	assert.ErrorIs(t, s.StartCheckout(context.Background()), ErrNotReady)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-external", StateAwaitingExternal.String())
	assert.Equal(t, "state(42)", State(42).String())
}
