package listing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// numberToken matches the first number in a label such as "12.345,67 €" or "1.598 cm³".
var numberToken = regexp.MustCompile(`\d[\d.,]*`)

// ParseAmount converts a German formatted amount ("." thousands, "," decimals) into a decimal.
// Tokens whose separators do not fit that grouping, like the English "18,990", are rejected.
func ParseAmount(text string) (decimal.Decimal, error) {
	whole, frac, err := germanNumber(text)
	if err != nil {
		return decimal.Zero, err
	}
	if frac != "" {
		whole += "." + frac
	}
	amount, err := decimal.NewFromString(whole)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q: %v", ErrURLParseFailed, text, err)
	}
	return amount, nil
}

// ParseDisplacement extracts whole cubic centimetres from a label such as "1.598 cm³".
func ParseDisplacement(text string) (int, error) {
	whole, _, err := germanNumber(text)
	if err != nil {
		return 0, err
	}
	cm3, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("%w: displacement %q: %v", ErrURLParseFailed, text, err)
	}
	return cm3, nil
}

// germanNumber returns the integer digits and up to two fractional digits of
// the first number in text.
func germanNumber(text string) (whole, frac string, err error) {
	token := strings.TrimRight(numberToken.FindString(text), ".,")
	if token == "" {
		return "", "", fmt.Errorf("%w: no number in %q", ErrURLParseFailed, text)
	}
	intPart, frac, hasFrac := strings.Cut(token, ",")
	if hasFrac && (len(frac) == 0 || len(frac) > 2 || !allDigits(frac)) {
		return "", "", fmt.Errorf("%w: %q is not a German number", ErrURLParseFailed, text)
	}
	groups := strings.Split(intPart, ".")
	for i, g := range groups {
		if !allDigits(g) || g == "" || len(g) > 3 || (i > 0 && len(g) != 3) {
			return "", "", fmt.Errorf("%w: %q is not a German number", ErrURLParseFailed, text)
		}
	}
	return strings.Join(groups, ""), frac, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
