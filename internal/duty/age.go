package duty

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRegistration is returned for malformed or future first-registration dates.
var ErrInvalidRegistration = errors.New("duty: invalid first registration date")

// RegistrationDate is a first-registration month without day precision.
type RegistrationDate struct {
	Month time.Month
	Year  int
}

// ParseRegistrationDate parses the "MM/YYYY" notation used by listings.
func ParseRegistrationDate(value string) (RegistrationDate, error) {
	monthPart, yearPart, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return RegistrationDate{}, fmt.Errorf("%w: %q", ErrInvalidRegistration, value)
	}
	month, err := strconv.Atoi(strings.TrimSpace(monthPart))
	if err != nil || month < 1 || month > 12 {
		return RegistrationDate{}, fmt.Errorf("%w: month %q", ErrInvalidRegistration, monthPart)
	}
	yearPart = strings.TrimSpace(yearPart)
	year, err := strconv.Atoi(yearPart)
	if err != nil || len(yearPart) != 4 {
		return RegistrationDate{}, fmt.Errorf("%w: year %q", ErrInvalidRegistration, yearPart)
	}
	return RegistrationDate{Month: time.Month(month), Year: year}, nil
}

// String renders the date back into "MM/YYYY".
func (d RegistrationDate) String() string {
	return fmt.Sprintf("%02d/%04d", int(d.Month), d.Year)
}

// MarshalText implements encoding.TextMarshaler.
func (d RegistrationDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *RegistrationDate) UnmarshalText(text []byte) error {
	parsed, err := ParseRegistrationDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsZero reports whether the date has not been set.
func (d RegistrationDate) IsZero() bool {
	return d.Month == 0 && d.Year == 0
}

// Start returns the first day of the registration month in loc.
func (d RegistrationDate) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, 1, 0, 0, 0, 0, loc)
}

// AgeYears returns the number of whole years between the registration month and now.
// A vehicle registered in March 2021 is three years old from 1 March 2024 onwards.
func AgeYears(reg RegistrationDate, now time.Time) (int, error) {
	if reg.Month < time.January || reg.Month > time.December {
		return 0, ErrInvalidRegistration
	}
	start := reg.Start(now.Location())
	if now.Before(start) {
		return 0, fmt.Errorf("%w: %s is in the future", ErrInvalidRegistration, reg)
	}
	years := now.Year() - reg.Year
	if now.Month() < reg.Month {
		years--
	}
	return years, nil
}
