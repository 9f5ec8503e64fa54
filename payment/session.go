// Package payment drives the pay-for-a-booking flow: load what is due,
// send the user to the hosted checkout, and learn the outcome from
// whichever of three independent signals reports first.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/metrics"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// State is the payment session state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateExpired
	StateAlreadyPaid
	StateError
	StateAwaitingExternal
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateExpired:
		return "expired"
	case StateAlreadyPaid:
		return "already-paid"
	case StateError:
		return "error"
	case StateAwaitingExternal:
		return "awaiting-external"
	case StateCompleted:
		return "completed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Signals that can resolve a payment.
const (
	SignalMailbox     = "mailbox"
	SignalPoll        = "poll"
	SignalTabClosed   = "tab_closed"
	SignalWallet      = "wallet"
	SignalAlreadyPaid = "already_paid"
)

var (
	// ErrNotReady is returned when an action needs the Ready state.
	ErrNotReady = errors.New("payment: session is not ready")
	// ErrNoCheckoutURL is returned when the backend gave no checkout URL.
	ErrNoCheckoutURL = errors.New("payment: no checkout url")
	// ErrWalletUnavailable is returned when the wallet cannot cover the payment.
	ErrWalletUnavailable = errors.New("payment: wallet payment not available")
)

// API is the REST surface a Session needs.
type API interface {
	GetPaymentInfo(ctx context.Context, bookingID int64) (*wire.PaymentInfo, error)
	GetPaymentStatus(ctx context.Context, bookingID int64) (*wire.PaymentStatus, error)
	PayWithWallet(ctx context.Context, bookingID int64, phase wire.PaymentPhase, amount float64) error
}

var _ API = (*tutorhub.APIClient)(nil)

// Outcome is passed to OnComplete.
type Outcome struct {
	BookingID int64
	Phase     wire.PaymentPhase
	Signal    string
}

// Config holds session parameters.
type Config struct {
	BookingID        int64
	PollInterval     time.Duration // default 5s
	TabCheckInterval time.Duration // default 1s
	MailboxKey       string        // default ResultKey
	OnComplete       func(Outcome) // called at most once per Open
}

// Session is one payment attempt for a booking. Safe for concurrent use.
type Session struct {
	api      API
	mailbox  Mailbox
	launcher Launcher
	cfg      Config
	log      *logger.Logger

	mu        sync.Mutex
	state     State
	info      *wire.PaymentInfo
	lastErr   error
	completed bool
	stop      context.CancelFunc
}

// NewSession creates an idle session.
func NewSession(api API, mailbox Mailbox, launcher Launcher, cfg Config, log *logger.Logger) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.TabCheckInterval <= 0 {
		cfg.TabCheckInterval = time.Second
	}
	if cfg.MailboxKey == "" {
		cfg.MailboxKey = ResultKey
	}
	return &Session{
		api:      api,
		mailbox:  mailbox,
		launcher: launcher,
		cfg:      cfg,
		log:      logger.OrNop(log).Named("payment").With(zap.Int64("booking", cfg.BookingID)),
	}
}

// Open loads what is due. An already-paid booking completes the session at
// once; an expired one is terminal; any other failure can be retried.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateError:
	default:
		s.mu.Unlock()
		return fmt.Errorf("payment: cannot open in state %s", s.state)
	}
	s.state = StateLoading
	s.completed = false
	s.mu.Unlock()

	info, err := s.api.GetPaymentInfo(ctx, s.cfg.BookingID)

	s.mu.Lock()
	switch {
	case err == nil:
		s.info = info
		s.lastErr = nil
		s.state = StateReady
		s.mu.Unlock()
		return nil

	case tutorhub.IsAlreadyPaid(err):
		s.state = StateAlreadyPaid
		s.mu.Unlock()
		s.finish(SignalAlreadyPaid)
		return nil

	case tutorhub.IsExpired(err):
		s.state = StateExpired
		s.lastErr = err
		s.mu.Unlock()
		return err

	default:
		s.state = StateError
		s.lastErr = err
		s.mu.Unlock()
		s.log.Warn("load payment info failed", zap.Error(err))
		return err
	}
}

// Retry reloads after a failed Open. Expired sessions cannot be retried.
func (s *Session) Retry(ctx context.Context) error {
	if s.State() != StateError {
		return ErrNotReady
	}
	return s.Open(ctx)
}

// StartCheckout opens the hosted checkout and starts watching for its
// outcome: the mailbox, a status poll and the checkout window itself.
func (s *Session) StartCheckout(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.info == nil || s.info.CheckoutURL == "" {
		s.mu.Unlock()
		return ErrNoCheckoutURL
	}
	checkoutURL := s.info.CheckoutURL
	s.mu.Unlock()

	// A leftover result for this booking belongs to an earlier attempt.
	s.clearResult(ctx)

	handle, err := s.launcher.Open(ctx, checkoutURL)
	if err != nil {
		return err
	}

	// Watchers outlive the caller's ctx; Close or completion stops them.
	wctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		cancel()
		return ErrNotReady
	}
	s.state = StateAwaitingExternal
	s.stop = cancel
	s.mu.Unlock()

	updates, err := s.mailbox.Watch(wctx, s.cfg.MailboxKey)
	if err != nil {
		s.log.Warn("mailbox watch unavailable, relying on poll", zap.Error(err))
	} else {
		go s.watchMailbox(wctx, updates)
	}
	go s.pollStatus(wctx)
	go s.watchHandle(wctx, handle)

	s.log.Info("checkout started")
	return nil
}

// PayWithWallet settles the amount due from the wallet. It bypasses the
// checkout and its watchers.
func (s *Session) PayWithWallet(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	info := *s.info
	s.mu.Unlock()

	if !info.CanUseWallet || info.WalletBalance < info.Amount {
		return ErrWalletUnavailable
	}
	if err := s.api.PayWithWallet(ctx, s.cfg.BookingID, info.Phase, info.Amount); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		if tutorhub.IsAlreadyPaid(err) {
			s.finish(SignalAlreadyPaid)
			return nil
		}
		return err
	}
	s.finish(SignalWallet)
	return nil
}

// Close stops all watchers and returns the session to Idle.
func (s *Session) Close() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.state = StateIdle
	s.info = nil
	s.lastErr = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the loaded payment info, or nil.
func (s *Session) Info() *wire.PaymentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return nil
	}
	info := *s.info
	return &info
}

// LastError returns the last load or wallet error.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// finish resolves the session exactly once, whichever signal gets here
// first. Later signals are ignored.
func (s *Session) finish(signal string) bool {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return false
	}
	switch s.state {
	case StateAwaitingExternal, StateReady:
		s.state = StateCompleted
	case StateAlreadyPaid:
	default:
		s.mu.Unlock()
		return false
	}
	s.completed = true
	stop := s.stop
	s.stop = nil
	var phase wire.PaymentPhase
	if s.info != nil {
		phase = s.info.Phase
	}
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.clearResult(ctx)
	cancel()

	metrics.PaymentOutcomes.WithLabelValues(signal).Inc()
	s.log.Info("payment completed", zap.String("signal", signal))
	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete(Outcome{BookingID: s.cfg.BookingID, Phase: phase, Signal: signal})
	}
	return true
}

// readResult returns this booking's result from the mailbox, if present.
func (s *Session) readResult(ctx context.Context) (Result, bool) {
	v, ok, err := s.mailbox.Get(ctx, s.cfg.MailboxKey)
	if err != nil {
		s.log.Debug("mailbox read failed", zap.Error(err))
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	r, ok := DecodeResult(v)
	if !ok || r.BookingID != s.cfg.BookingID {
		return Result{}, false
	}
	return r, true
}

// clearResult deletes the mailbox entry if it is for this booking. Results
// for other bookings are left for their own sessions.
func (s *Session) clearResult(ctx context.Context) {
	if _, ok := s.readResult(ctx); !ok {
		return
	}
	if err := s.mailbox.Delete(ctx, s.cfg.MailboxKey); err != nil {
		s.log.Debug("mailbox delete failed", zap.Error(err))
	}
}

func (s *Session) watchMailbox(ctx context.Context, updates <-chan string) {
	// A result may have landed before the watch was in place.
	if r, ok := s.readResult(ctx); ok && r.Succeeded() {
		s.finish(SignalMailbox)
		return
	}
	for v := range updates {
		r, ok := DecodeResult(v)
		if !ok || r.BookingID != s.cfg.BookingID {
			continue
		}
		if r.Succeeded() {
			s.finish(SignalMailbox)
			return
		}
		s.log.Info("checkout reported no payment", zap.String("status", r.Status))
	}
}

func (s *Session) pollStatus(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := s.api.GetPaymentStatus(ctx, s.cfg.BookingID)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Debug("status poll failed", zap.Error(err))
			}
			continue
		}
		s.mu.Lock()
		var phase wire.PaymentPhase
		if s.info != nil {
			phase = s.info.Phase
		}
		s.mu.Unlock()
		if st.PaidFor(phase) {
			s.finish(SignalPoll)
			return
		}
	}
}

func (s *Session) watchHandle(ctx context.Context, h Handle) {
	ticker := time.NewTicker(s.cfg.TabCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !h.Closed() {
			continue
		}

		if r, ok := s.readResult(ctx); ok && r.Succeeded() {
			s.finish(SignalTabClosed)
			return
		}

		// Closed without a result: the user may try again.
		s.mu.Lock()
		if s.state != StateAwaitingExternal || s.completed {
			s.mu.Unlock()
			return
		}
		stop := s.stop
		s.stop = nil
		s.state = StateReady
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.log.Info("checkout closed without a result")
		return
	}
}
