package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/chat"
	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/notify"
	"github.com/tutorhub/tutorhub-go-sdk/payment"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

const helpText = `commands:
  /channels            list channels
  /filter <text>       filter channels by name or last message
  /open <id>           open a channel
  /older               load older messages
  /retry               retry the last failed history load
  /accept              accept the latest booking request
  /decline <reason>    decline the latest booking request
  /pay                 pay for the open channel's booking in the browser
  /wallet              pay for the open channel's booking from the wallet
  /closed              report the checkout tab as closed
  /notifications       list notifications
  /read                mark all notifications read
  /quit                exit
anything else is sent to the open channel`

var errQuit = errors.New("quit")

type appDeps struct {
	me       tutorhub.Identity
	hub      *tutorhub.Client
	api      *tutorhub.APIClient
	session  *chat.Session
	unread   *notify.Counter
	mailbox  payment.Mailbox
	launcher *payment.BrowserLauncher
	log      *logger.Logger
	out      io.Writer
}

type app struct {
	appDeps

	outMu sync.Mutex

	payMu sync.Mutex
	pay   *payment.Session
}

func newApp(d appDeps) *app {
	return &app{appDeps: d}
}

func (a *app) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format+"\n", args...)
}

func (a *app) run(ctx context.Context, in io.Reader) error {
	a.session.OnMessage(func(m wire.Message) {
		a.printf("%s", formatCard(chat.Render(m, a.me)))
	})
	a.session.OnSelect(func(ch wire.Channel) {
		a.printf("-- %s (channel %d, booking %d)", ch.CounterpartyName, ch.ID, ch.BookingID)
	})
	a.hub.OnUserJoined(func(e wire.UserEvent) {
		a.printf("* %s joined", displayName(e))
	})
	a.hub.OnUserLeft(func(e wire.UserEvent) {
		a.printf("* %s left", displayName(e))
	})
	a.session.OnReconnected(func() { a.printf("* reconnected") })
	a.hub.OnClosed(func(err error) {
		if err != nil {
			a.printf("* connection closed: %v", err)
		}
	})
	a.unread.OnChange(func(n int) { a.printf("* %d unread notifications", n) })

	if err := a.listChannels(ctx, ""); err != nil {
		a.printf("error: %v", err)
	}
	a.printf("type /help for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := a.handle(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				a.printf("error: %v", err)
			}
		}
	}
}

// parseCommand splits "/cmd rest" into its parts. Plain text has an empty
// command.
func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	cmd, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (a *app) handle(ctx context.Context, line string) error {
	cmd, arg := parseCommand(line)
	switch cmd {
	case "":
		if arg == "" {
			return nil
		}
		_, err := a.session.Send(ctx, arg)
		return err
	case "help":
		a.printf("%s", helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "channels":
		return a.listChannels(ctx, "")
	case "filter":
		return a.listChannels(ctx, arg)
	case "open":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("channel id %q is not a number", arg)
		}
		if err := a.session.Select(ctx, id); err != nil {
			return err
		}
		a.printTimeline()
		return nil
	case "older":
		tl := a.session.Timeline()
		if !tl.HasMore() {
			a.printf("* no older messages")
			return nil
		}
		if err := tl.LoadOlder(ctx); err != nil {
			return err
		}
		a.printTimeline()
		return nil
	case "retry":
		if err := a.session.Timeline().Retry(ctx); err != nil {
			return err
		}
		a.printTimeline()
		return nil
	case "accept":
		card, err := a.latestBookingCard(ctx)
		if err != nil {
			return err
		}
		if err := card.Accept(ctx); err != nil {
			return err
		}
		a.printf("* booking %d %s", card.BookingID(), card.Status())
		return nil
	case "decline":
		card, err := a.latestBookingCard(ctx)
		if err != nil {
			return err
		}
		if err := card.Decline(ctx, arg); err != nil {
			return err
		}
		a.printf("* booking %d %s", card.BookingID(), card.Status())
		return nil
	case "pay":
		return a.startPayment(ctx, false)
	case "wallet":
		return a.startPayment(ctx, true)
	case "closed":
		h := a.launcher.Current()
		if h == nil {
			return errors.New("no checkout is open")
		}
		h.MarkClosed()
		return nil
	case "notifications":
		list, err := a.api.ListNotifications(ctx, tutorhub.Page{Page: 1})
		if err != nil {
			return err
		}
		for _, n := range list {
			mark := " "
			if !n.Read {
				mark = "*"
			}
			a.printf("%s %d %s: %s", mark, n.ID, n.Title, n.Body)
		}
		return nil
	case "read":
		if err := a.api.MarkAllRead(ctx); err != nil {
			return err
		}
		return a.unread.Refresh(ctx)
	}
	return fmt.Errorf("unknown command /%s, try /help", cmd)
}

func (a *app) listChannels(ctx context.Context, query string) error {
	var channels []wire.Channel
	if query == "" {
		var err error
		if channels, err = a.session.Channels(ctx); err != nil {
			return err
		}
	} else {
		channels = a.session.Filter(query)
	}
	if len(channels) == 0 {
		a.printf("* no channels")
		return nil
	}
	for _, ch := range channels {
		a.printf("%6d  %-24s %-14s %s", ch.ID, ch.CounterpartyName, ch.Status, ch.LastMessagePreview)
	}
	return nil
}

// printTimeline writes the loaded history oldest first.
func (a *app) printTimeline() {
	msgs := a.session.Timeline().Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		a.printf("%s", formatCard(chat.Render(msgs[i], a.me)))
	}
	if a.session.Timeline().HasMore() {
		a.printf("-- /older for more")
	}
}

func (a *app) latestBookingCard(ctx context.Context) (*chat.BookingCard, error) {
	for _, m := range a.session.Timeline().Messages() {
		if m.Type != wire.MessageBookingRequest || m.Metadata == nil || m.Metadata.Booking == nil {
			continue
		}
		card := chat.NewBookingCard(a.api, m.Metadata.Booking, a.log)
		if err := card.Mount(ctx); err != nil {
			a.log.Warn("using snapshot booking status", zap.Error(err))
		}
		return card, nil
	}
	return nil, errors.New("no booking request in this channel")
}

func (a *app) activeBooking() (int64, error) {
	id := a.session.Timeline().ActiveChannel()
	if id == 0 {
		return 0, chat.ErrNoActiveChannel
	}
	ch, ok := a.session.Channel(id)
	if !ok || ch.BookingID == 0 {
		return 0, errors.New("the open channel has no booking")
	}
	return ch.BookingID, nil
}

func (a *app) startPayment(ctx context.Context, wallet bool) error {
	bookingID, err := a.activeBooking()
	if err != nil {
		return err
	}

	a.payMu.Lock()
	if a.pay != nil {
		a.pay.Close()
	}
	ps := payment.NewSession(a.api, a.mailbox, a.launcher, payment.Config{
		BookingID: bookingID,
		OnComplete: func(o payment.Outcome) {
			a.printf("* payment for booking %d completed (%s, via %s)", o.BookingID, o.Phase, o.Signal)
		},
	}, a.log)
	a.pay = ps
	a.payMu.Unlock()

	if err := ps.Open(ctx); err != nil {
		return err
	}
	switch ps.State() {
	case payment.StateAlreadyPaid, payment.StateCompleted:
		a.printf("* booking %d is already paid", bookingID)
		return nil
	case payment.StateReady:
	default:
		return fmt.Errorf("payment is %s", ps.State())
	}

	info := ps.Info()
	a.printf("* %s payment due: %.2f %s (wallet %.2f)", info.Phase, info.Amount, info.Currency, info.WalletBalance)
	if wallet {
		return ps.PayWithWallet(ctx)
	}
	if err := ps.StartCheckout(ctx); err != nil {
		return err
	}
	a.printf("* checkout opened in the browser; use /closed if you close it without paying")
	return nil
}

func displayName(e wire.UserEvent) string {
	if e.UserName != "" {
		return e.UserName
	}
	return e.UserID
}

func formatCard(c chat.Card) string {
	m := c.Message()
	ts := m.CreatedAt.Local().Format(time.Kitchen)
	name := m.SenderName
	if name == "" {
		name = m.SenderID
	}

	switch card := c.(type) {
	case chat.BubbleCard:
		pending := ""
		if m.Provisional {
			pending = " (sending)"
		}
		if card.Mine {
			name = "you"
		}
		return fmt.Sprintf("[%s] %s: %s%s", ts, name, m.Content, pending)
	case chat.BookingRequestCard:
		s := fmt.Sprintf("[%s] %s requested a booking", ts, name)
		if b := card.Booking; b != nil {
			s += fmt.Sprintf(": %s, %.2f %s, %s", b.Subject, b.Price, b.Currency, b.StartTime.Local().Format(time.RFC822))
		}
		if card.CanRespond {
			s += " (/accept or /decline)"
		}
		return s
	case chat.BookingStatusCard:
		verb := "declined"
		if card.Accepted {
			verb = "accepted"
		}
		s := fmt.Sprintf("[%s] booking %s", ts, verb)
		if card.CanPay {
			s += " (/pay or /wallet)"
		}
		return s
	case chat.MeetingLinkCard:
		return fmt.Sprintf("[%s] %s shared a meeting link: %s", ts, name, card.URL)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, name, m.Content)
}
