package bot

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/duty-bot/internal/quote"
)

const (
	msgGreeting = "Привет, этот бот поможет тебе рассчитать стоимость покупки автомобиля с европейского mobile.de" +
		"\n\nОтправляй ссылку на машину!"
	msgProcessing   = "Обрабатываем вашу ссылку ⏳"
	msgNoLink       = "Отправьте ссылку на объявление с mobile.de"
	msgBadLink      = "Ссылка ведет на какую-то другую страницу. Отправьте корректную ссылку"
	msgRateDown     = "Не удалось получить курс евро. Попробуйте позже"
	msgListingDown  = "mobile.de сейчас не отвечает. Попробуйте позже"
	msgInternal     = "Что-то пошло не так. Попробуйте позже"
	msgRateLimited  = "Слишком много запросов. Подождите немного и попробуйте снова"
	msgBusy         = "Предыдущая ссылка ещё обрабатывается, дождитесь ответа"
	untitledVehicle = "без названия"
)

func errorMessage(kind quote.Kind) string {
	switch kind {
	case quote.KindAttributeExtraction:
		return msgBadLink
	case quote.KindInvalidRate:
		return msgRateDown
	case quote.KindUnavailable:
		return msgListingDown
	default:
		return msgInternal
	}
}

func resultMessage(res quote.Result) string {
	title := strings.TrimSpace(res.Vehicle.Title)
	if title == "" {
		title = untitledVehicle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Название машины: %s\n", title)
	fmt.Fprintf(&b, "Возраст: %d %s\n", res.AgeYears, yearsWord(res.AgeYears))
	// duty is never rounded in the payer's favour
	fmt.Fprintf(&b, "Пошлина: %s €\n", formatMoney(res.Duty.Chosen.RoundCeil(2)))
	fmt.Fprintf(&b, "Курс евро: %s ₽\n", formatMoney(res.Rate))
	fmt.Fprintf(&b, "К оплате: %s ₽", formatMoney(res.Payable))
	return b.String()
}

// yearsWord picks the Russian plural form for a count of years.
func yearsWord(n int) string {
	n %= 100
	if n >= 11 && n <= 14 {
		return "лет"
	}
	switch n % 10 {
	case 1:
		return "год"
	case 2, 3, 4:
		return "года"
	default:
		return "лет"
	}
}

// formatMoney renders d with two decimals, a decimal comma and space
// grouping: 441604.66 becomes "441 604,66".
func formatMoney(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteRune(' ')
		}
		grouped.WriteRune(r)
	}
	return sign + grouped.String() + "," + frac
}
