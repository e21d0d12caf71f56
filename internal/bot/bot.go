package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/duty-bot/internal/lock"
	"github.com/noah-isme/duty-bot/internal/obs"
	"github.com/noah-isme/duty-bot/internal/quote"
)

// Reply is an outgoing chat message.
type Reply struct {
	ChatID  int64
	ReplyTo int
	Text    string
}

// Sender delivers replies to the chat transport.
type Sender interface {
	Send(ctx context.Context, reply Reply) error
}

// Quoter computes a quote for a listing link.
type Quoter interface {
	Quote(ctx context.Context, url string) (quote.Result, error)
}

// ChatLocker lets at most one holder run per key.
type ChatLocker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Config wires the bot collaborators.
type Config struct {
	Sender   Sender
	Quoter   Quoter
	Limiter  *limiter.Limiter
	Locker   ChatLocker
	Logger   zerolog.Logger
	LockTTL  time.Duration
	Timeout  time.Duration
	Parallel int
}

// Bot answers chat messages containing listing links with a duty quote.
type Bot struct {
	sender   Sender
	quoter   Quoter
	limiter  *limiter.Limiter
	locker   ChatLocker
	logger   zerolog.Logger
	lockTTL  time.Duration
	timeout  time.Duration
	parallel int
}

// New constructs a Bot. A nil Locker falls back to an in-process lock and a
// nil Limiter disables per-chat limits.
func New(cfg Config) *Bot {
	b := &Bot{
		sender:   cfg.Sender,
		quoter:   cfg.Quoter,
		limiter:  cfg.Limiter,
		locker:   cfg.Locker,
		logger:   cfg.Logger,
		lockTTL:  cfg.LockTTL,
		timeout:  cfg.Timeout,
		parallel: cfg.Parallel,
	}
	if b.locker == nil {
		b.locker = &lock.Local{}
	}
	if b.lockTTL <= 0 {
		b.lockTTL = time.Minute
	}
	if b.timeout <= 0 {
		b.timeout = 45 * time.Second
	}
	if b.parallel <= 0 {
		b.parallel = 8
	}
	return b
}

// Run handles updates until the channel is closed or ctx is cancelled. Each
// update runs in its own goroutine, bounded by the configured parallelism.
// Run waits for in-flight updates before returning.
func (b *Bot) Run(ctx context.Context, updates <-chan Update) error {
	sem := make(chan struct{}, b.parallel)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			wg.Add(1)
			go func(u Update) {
				defer wg.Done()
				defer func() { <-sem }()
				b.safeHandle(ctx, u)
			}(u)
		}
	}
}

func (b *Bot) safeHandle(ctx context.Context, u Update) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error().Int64("chat_id", u.ChatID).Interface("panic", rec).Msg("bot_update_panic")
		}
	}()
	b.Handle(ctx, u)
}

// Handle processes a single update.
func (b *Bot) Handle(ctx context.Context, u Update) {
	logger := b.logger.With().Int64("chat_id", u.ChatID).Int("message_id", u.MessageID).Logger()
	ctx = logger.WithContext(ctx)

	switch u.Command() {
	case "start", "help":
		b.reply(ctx, u, msgGreeting)
		return
	case "":
	default:
		return
	}

	links := u.URLs()
	if len(links) == 0 {
		b.reply(ctx, u, msgNoLink)
		return
	}
	if !b.allow(ctx, u.ChatID) {
		obs.CountChatRejected("rate_limited")
		b.reply(ctx, u, msgRateLimited)
		return
	}

	key := strconv.FormatInt(u.ChatID, 10)
	err := b.locker.TryWithLock(ctx, key, b.lockTTL, func(ctx context.Context) error {
		b.quote(ctx, u, links[0])
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrLocked):
		obs.CountChatRejected("busy")
		b.reply(ctx, u, msgBusy)
	default:
		logger.Warn().Err(err).Msg("chat_lock_failed")
		b.quote(ctx, u, links[0])
	}
}

func (b *Bot) quote(ctx context.Context, u Update, link string) {
	b.reply(ctx, u, msgProcessing)

	qctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	res, err := b.quoter.Quote(qctx, link)
	result := "ok"
	if err != nil {
		kind := quote.Classify(err)
		result = kind.String()
		evt := zerolog.Ctx(ctx).Warn()
		if kind == quote.KindInternal {
			evt = zerolog.Ctx(ctx).Error()
		}
		evt.Err(err).Str("kind", result).Str("url", link).Msg("quote_failed")
		b.reply(ctx, u, errorMessage(kind))
	} else {
		zerolog.Ctx(ctx).Info().
			Str("url", res.Vehicle.URL).
			Str("payable", res.Payable.String()).
			Msg("quote_sent")
		b.reply(ctx, u, resultMessage(res))
	}
	obs.ObserveQuote("bot", result, obs.DurationMillis(time.Since(start)))
}

// allow consults the per-chat limiter. Store failures let the message through.
func (b *Bot) allow(ctx context.Context, chatID int64) bool {
	if b.limiter == nil {
		return true
	}
	lctx, err := b.limiter.Get(ctx, fmt.Sprintf("chat:%d", chatID))
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("chat_limiter_failed")
		return true
	}
	return !lctx.Reached
}

func (b *Bot) reply(ctx context.Context, u Update, text string) {
	if b.sender == nil {
		return
	}
	if err := b.sender.Send(ctx, Reply{ChatID: u.ChatID, ReplyTo: u.MessageID, Text: text}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("bot_send_failed")
	}
}
