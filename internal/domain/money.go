package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultCurrency is used when a Money value is built without a currency.
const DefaultCurrency = "USD"

// Money is an amount in minor units (cents) of a three-letter currency.
type Money struct {
	Cents    int64
	Currency string
}

// NewMoney builds Money from a decimal amount, rounding half away from zero to
// two decimal places. The amount is rounded on its shortest decimal form, so
// NewMoney(1.005) and ParseMoney("1.005") agree.
func NewMoney(amount float64, currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	m, err := ParseMoney(strconv.FormatFloat(amount, 'f', -1, 64), currency)
	if err != nil {
		// out of int64 cents range, NaN or Inf
		return Money{Cents: int64(math.Round(amount * 100)), Currency: currency}
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Currency: currency}
}

// ParseMoney parses a decimal literal such as "1500", "-12.5" or "99.995"
// without going through floating point. Digits past the second decimal are
// rounded half away from zero.
func ParseMoney(amount, currency string) (Money, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	s := strings.TrimSpace(amount)
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return Money{}, fmt.Errorf("invalid amount %q", amount)
	}
	if whole == "" {
		whole = "0"
	}
	if !allDigits(whole) || !allDigits(frac) {
		return Money{}, fmt.Errorf("invalid amount %q", amount)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > math.MaxInt64/100-1 {
		return Money{}, fmt.Errorf("amount %q out of range", amount)
	}
	frac += "000"
	cents := units*100 + int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	if frac[2] >= '5' {
		cents++
	}
	if neg {
		cents = -cents
	}
	return Money{Cents: cents, Currency: currency}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Add returns m + o. Both operands must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return m, &CurrencyMismatchError{Expected: m.Currency, Actual: o.Currency}
	}
	return Money{Cents: m.Cents + o.Cents, Currency: m.Currency}, nil
}

// Sub returns m - o. Both operands must share a currency.
func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return m, &CurrencyMismatchError{Expected: m.Currency, Actual: o.Currency}
	}
	return Money{Cents: m.Cents - o.Cents, Currency: m.Currency}, nil
}

func (m Money) IsZero() bool { return m.Cents == 0 }

// Amount returns the decimal amount. Use only for display or export.
func (m Money) Amount() float64 { return float64(m.Cents) / 100 }

// Decimal formats the amount with exactly two decimals, e.g. "-0.05".
func (m Money) Decimal() string {
	c := m.Cents
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

func (m Money) String() string { return m.Decimal() + " " + m.Currency }

type moneyJSON struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// MarshalJSON writes {"amount": 1500.00, "currency": "USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: json.Number(m.Decimal()), Currency: m.Currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode money: %w", err)
	}
	if raw.Amount == "" {
		raw.Amount = "0"
	}
	parsed, err := ParseMoney(raw.Amount.String(), raw.Currency)
	if err != nil {
		// exponent notation such as 1.5e3; NewMoney rounds on the decimal form
		f, ferr := raw.Amount.Float64()
		if ferr != nil {
			return err
		}
		parsed = NewMoney(f, raw.Currency)
	}
	*m = parsed
	return nil
}
