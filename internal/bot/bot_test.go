package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/noah-isme/duty-bot/internal/currency"
	"github.com/noah-isme/duty-bot/internal/duty"
	"github.com/noah-isme/duty-bot/internal/listing"
	"github.com/noah-isme/duty-bot/internal/quote"
)

type recordingSender struct {
	mu      sync.Mutex
	replies []Reply
}

func (s *recordingSender) Send(_ context.Context, r Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return nil
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.replies))
	for _, r := range s.replies {
		out = append(out, r.Text)
	}
	return out
}

type quoterFunc func(ctx context.Context, url string) (quote.Result, error)

func (f quoterFunc) Quote(ctx context.Context, url string) (quote.Result, error) { return f(ctx, url) }

func sampleResult() quote.Result {
	return quote.Result{
		Vehicle: listing.Vehicle{
			URL:               "https://suchen.mobile.de/fahrzeuge/details.html?id=1",
			Title:             "Volkswagen Golf 1.4 TSI",
			Price:             decimal.NewFromInt(8000),
			EngineCm3:         1400,
			FirstRegistration: duty.RegistrationDate{Month: time.January, Year: 2023},
		},
		AgeYears: 1,
		Duty:     duty.Breakdown{Schedule: duty.ScheduleYoung, Chosen: decimal.NewFromInt(4900)},
		Rate:     decimal.RequireFromString("90.1234"),
		Payable:  decimal.RequireFromString("441604.66"),
	}
}

func linkUpdate(chatID int64, link string) Update {
	return Update{
		ChatID:    chatID,
		MessageID: 11,
		Text:      link,
		Entities:  []Entity{{Type: EntityURL, Offset: 0, Length: len(link)}},
	}
}

func newTestBot(sender Sender, q Quoter, lim *limiter.Limiter) *Bot {
	return New(Config{Sender: sender, Quoter: q, Limiter: lim, Logger: zerolog.Nop()})
}

func TestHandleStartCommand(t *testing.T) {
	sender := &recordingSender{}
	b := newTestBot(sender, nil, nil)

	b.Handle(context.Background(), Update{
		ChatID:   1,
		Text:     "/start",
		Entities: []Entity{{Type: EntityBotCommand, Offset: 0, Length: 6}},
	})
	require.Equal(t, []string{msgGreeting}, sender.texts())
}

func TestHandleLinkRepliesWithQuote(t *testing.T) {
	sender := &recordingSender{}
	var got string
	b := newTestBot(sender, quoterFunc(func(_ context.Context, url string) (quote.Result, error) {
		got = url
		return sampleResult(), nil
	}), nil)

	link := "https://suchen.mobile.de/fahrzeuge/details.html?id=1"
	b.Handle(context.Background(), linkUpdate(42, link))

	require.Equal(t, link, got)
	texts := sender.texts()
	require.Len(t, texts, 2)
	require.Equal(t, msgProcessing, texts[0])
	require.Equal(t, "Название машины: Volkswagen Golf 1.4 TSI\n"+
		"Возраст: 1 год\n"+
		"Пошлина: 4 900,00 €\n"+
		"Курс евро: 90,12 ₽\n"+
		"К оплате: 441 604,66 ₽", texts[1])
	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Equal(t, int64(42), sender.replies[1].ChatID)
	require.Equal(t, 11, sender.replies[1].ReplyTo)
}

func TestResultMessageRoundsDutyUp(t *testing.T) {
	res := sampleResult()
	res.Duty.Chosen = decimal.RequireFromString("4320.004")
	require.Contains(t, resultMessage(res), "Пошлина: 4 320,01 €\n")

	res.Duty.Chosen = decimal.RequireFromString("4320.00")
	require.Contains(t, resultMessage(res), "Пошлина: 4 320,00 €\n")
}

func TestHandleMapsErrorsToMessages(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"bad link":    {fmt.Errorf("%w: search page", listing.ErrURLParseFailed), msgBadLink},
		"rate":        {currency.ErrInvalidRate, msgRateDown},
		"unavailable": {fmt.Errorf("%w: 503", listing.ErrFetchFailed), msgListingDown},
		"internal":    {errors.New("boom"), msgInternal},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sender := &recordingSender{}
			b := newTestBot(sender, quoterFunc(func(context.Context, string) (quote.Result, error) {
				return quote.Result{}, tc.err
			}), nil)
			b.Handle(context.Background(), linkUpdate(1, "https://www.mobile.de/details.html"))
			require.Equal(t, []string{msgProcessing, tc.want}, sender.texts())
		})
	}
}

func TestHandleWithoutLink(t *testing.T) {
	sender := &recordingSender{}
	b := newTestBot(sender, quoterFunc(func(context.Context, string) (quote.Result, error) {
		t.Fatal("quoter must not be called")
		return quote.Result{}, nil
	}), nil)

	b.Handle(context.Background(), Update{ChatID: 1, Text: "сколько стоит растаможка?"})
	require.Equal(t, []string{msgNoLink}, sender.texts())
}

func TestHandleIgnoresUnknownCommands(t *testing.T) {
	sender := &recordingSender{}
	b := newTestBot(sender, nil, nil)
	b.Handle(context.Background(), Update{
		ChatID:   1,
		Text:     "/settings",
		Entities: []Entity{{Type: EntityBotCommand, Offset: 0, Length: 9}},
	})
	require.Empty(t, sender.texts())
}

func TestHandleRateLimitsPerChat(t *testing.T) {
	sender := &recordingSender{}
	calls := 0
	lim := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 1})
	b := newTestBot(sender, quoterFunc(func(context.Context, string) (quote.Result, error) {
		calls++
		return sampleResult(), nil
	}), lim)

	link := "https://www.mobile.de/details.html"
	b.Handle(context.Background(), linkUpdate(5, link))
	b.Handle(context.Background(), linkUpdate(5, link))
	b.Handle(context.Background(), linkUpdate(6, link))

	require.Equal(t, 2, calls)
	require.Contains(t, sender.texts(), msgRateLimited)
}

func TestHandleRejectsSecondQuoteInSameChat(t *testing.T) {
	sender := &recordingSender{}
	started := make(chan struct{})
	release := make(chan struct{})
	b := newTestBot(sender, quoterFunc(func(context.Context, string) (quote.Result, error) {
		close(started)
		<-release
		return sampleResult(), nil
	}), nil)

	link := "https://www.mobile.de/details.html"
	done := make(chan struct{})
	go func() {
		b.Handle(context.Background(), linkUpdate(9, link))
		close(done)
	}()
	<-started
	b.Handle(context.Background(), linkUpdate(9, link))
	close(release)
	<-done

	require.Contains(t, sender.texts(), msgBusy)
}

func TestRunProcessesUpdatesUntilChannelCloses(t *testing.T) {
	sender := &recordingSender{}
	b := New(Config{
		Sender:   sender,
		Quoter:   quoterFunc(func(context.Context, string) (quote.Result, error) { return sampleResult(), nil }),
		Logger:   zerolog.Nop(),
		Parallel: 2,
	})

	updates := make(chan Update, 3)
	for i := int64(1); i <= 3; i++ {
		updates <- linkUpdate(i, "https://www.mobile.de/details.html")
	}
	close(updates)

	require.NoError(t, b.Run(context.Background(), updates))
	require.Len(t, sender.texts(), 6)
}

func TestRunSurvivesPanickingQuoter(t *testing.T) {
	sender := &recordingSender{}
	b := newTestBot(sender, quoterFunc(func(context.Context, string) (quote.Result, error) {
		panic("parser exploded")
	}), nil)

	updates := make(chan Update, 2)
	updates <- linkUpdate(1, "https://www.mobile.de/details.html")
	updates <- Update{ChatID: 2, Text: "/start", Entities: []Entity{{Type: EntityBotCommand, Length: 6}}}
	close(updates)

	require.NoError(t, b.Run(context.Background(), updates))
	require.Contains(t, sender.texts(), msgGreeting)
}

func TestRunStopsOnCancel(t *testing.T) {
	b := newTestBot(&recordingSender{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Run(ctx, make(chan Update))
	require.ErrorIs(t, err, context.Canceled)
}

func TestYearsWord(t *testing.T) {
	for n, want := range map[int]string{0: "лет", 1: "год", 2: "года", 4: "года", 5: "лет", 11: "лет", 14: "лет", 21: "год", 22: "года", 111: "лет"} {
		require.Equal(t, want, yearsWord(n), n)
	}
}

func TestFormatMoney(t *testing.T) {
	require.Equal(t, "0,00", formatMoney(decimal.Zero))
	require.Equal(t, "999,50", formatMoney(decimal.RequireFromString("999.5")))
	require.Equal(t, "1 000,00", formatMoney(decimal.NewFromInt(1000)))
	require.Equal(t, "1 234 567,89", formatMoney(decimal.RequireFromString("1234567.89")))
}
