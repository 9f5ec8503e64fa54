package payment

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

const callbackRequestLimit = 30

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>{{.Body}}</p></body></html>
`))

// CallbackServer is the local landing page the hosted checkout redirects
// to. It writes the outcome into the mailbox for the waiting Session.
type CallbackServer struct {
	mailbox Mailbox
	key     string
	log     *logger.Logger
	router  chi.Router
}

// NewCallbackServer builds the router: /payment/callback, /healthz and
// /metrics.
func NewCallbackServer(mailbox Mailbox, log *logger.Logger) *CallbackServer {
	s := &CallbackServer{
		mailbox: mailbox,
		key:     ResultKey,
		log:     logger.OrNop(log).Named("callback"),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLog)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.callbackLimit()).Get("/payment/callback", s.handleCallback)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *CallbackServer) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx ends.
func (s *CallbackServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("callback server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bookingID, err := strconv.ParseInt(q.Get("bookingId"), 10, 64)
	if err != nil || bookingID <= 0 {
		s.render(w, http.StatusBadRequest, "Invalid payment callback", "The booking reference is missing.")
		return
	}

	res := Result{
		BookingID: bookingID,
		Status:    callbackStatus(q.Get("status")),
		Phase:     callbackPhase(q.Get("phase")),
	}
	if err := s.mailbox.Set(r.Context(), s.key, res.Encode()); err != nil {
		s.log.Error("store payment result failed", zap.Int64("booking", bookingID), zap.Error(err))
		s.render(w, http.StatusInternalServerError, "Something went wrong", "Return to the app to check your payment.")
		return
	}

	s.log.Info("payment result received",
		zap.Int64("booking", bookingID), zap.String("status", res.Status))
	if res.Succeeded() {
		s.render(w, http.StatusOK, "Payment received", "You can close this tab and return to the app.")
		return
	}
	s.render(w, http.StatusOK, "Payment not completed", "You can close this tab and try again from the app.")
}

// callbackLimit throttles the callback per client address.
func (s *CallbackServer) callbackLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		callbackRequestLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			s.render(w, http.StatusTooManyRequests, "Too many requests", "Wait a minute and return to the app.")
		}),
	)
}

func (s *CallbackServer) render(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	callbackPage.Execute(w, struct{ Title, Body string }{title, body})
}

// requestLog tags each request with an id and logs it once served.
func (s *CallbackServer) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", id))
	})
}

func callbackStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "succeeded", "paid", "complete", "completed":
		return StatusSuccess
	case "cancel", "cancelled", "canceled":
		return StatusCancelled
	}
	return StatusFailed
}

func callbackPhase(s string) wire.PaymentPhase {
	if strings.EqualFold(strings.TrimSpace(s), string(wire.PhaseRemaining)) {
		return wire.PhaseRemaining
	}
	return wire.PhaseDeposit
}
