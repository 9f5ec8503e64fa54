// Package main is a terminal client for tutorhub chat, bookings and
// payments.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/chat"
	"github.com/tutorhub/tutorhub-go-sdk/internal/config"
	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/notify"
	"github.com/tutorhub/tutorhub-go-sdk/payment"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: tutorchat.yaml if present)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	me, err := tutorhub.ParseIdentity(cfg.AccessToken)
	if err != nil {
		log.Fatal("access token is not a readable JWT", zap.Error(err))
	}
	if me.Expired(time.Now()) {
		log.Fatal("access token has expired", zap.Time("expires_at", me.ExpiresAt))
	}
	log.Info("signed in", zap.String("user", me.UserID), zap.String("role", string(me.Role)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := tutorhub.StaticToken(cfg.AccessToken)

	hub := tutorhub.NewClient(tutorhub.Config{
		HubURL:             cfg.HubURL,
		AccessTokenFactory: tokens,
		SkipNegotiation:    cfg.SkipNegotiation,
	}, tutorhub.WithLogger(log))
	defer hub.Disconnect()

	api, err := tutorhub.NewAPIClient(tutorhub.APIConfig{
		BaseURL:            cfg.APIURL,
		AccessTokenFactory: tokens,
		RequestsPerSecond:  cfg.RateLimit,
	}, tutorhub.WithAPILogger(log))
	if err != nil {
		log.Fatal("failed to create API client", zap.Error(err))
	}

	// Payment mailbox
	var mailbox payment.Mailbox
	switch cfg.Mailbox {
	case "redis":
		rdb, err := payment.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		mailbox = payment.NewRedisMailbox(rdb, "tutorchat:"+me.UserID+":", 10*time.Minute, log)
	default:
		mailbox = payment.NewMemoryMailbox()
	}

	callback := payment.NewCallbackServer(mailbox, log)
	go func() {
		log.Info("payment callback listening", zap.String("addr", cfg.CallbackAddr))
		if err := callback.ListenAndServe(ctx, cfg.CallbackAddr); err != nil {
			log.Error("payment callback server stopped", zap.Error(err))
		}
	}()

	unread := notify.NewCounter(api, cfg.NotifyInterval, log)
	go unread.Run(ctx)

	session := chat.NewSession(hub, api, me, log, chat.WithPageSize(cfg.PageSize))

	app := newApp(appDeps{
		me:       me,
		hub:      hub,
		api:      api,
		session:  session,
		unread:   unread,
		mailbox:  mailbox,
		launcher: &payment.BrowserLauncher{},
		log:      log,
		out:      os.Stdout,
	})

	if err := app.run(ctx, os.Stdin); err != nil {
		log.Error("tutorchat exited with error", zap.Error(err))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Close(closeCtx); err != nil {
		log.Warn("leave channel on exit failed", zap.Error(err))
	}
	log.Info("tutorchat stopped")
}
