package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	currencyRegex     = regexp.MustCompile(`^[A-Z]{3}$`)
	policyNumberRegex = regexp.MustCompile(`^[A-Z]{2,5}-[A-Z0-9-]{1,32}$`)
)

// ValidateCurrency checks if a currency code is ISO 4217 shaped.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidateRequired rejects blank strings.
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// ValidateNonNegative rejects negative amounts and malformed currencies.
func ValidateNonNegative(field string, m Money) error {
	if err := ValidateCurrency(m.Currency); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if m.Cents < 0 {
		return fmt.Errorf("%s must not be negative, got %s", field, m.Decimal())
	}
	return nil
}

// ValidateDocumentNumber checks policy, quote and endorsement numbers such as
// "POL-001" or "QTE-2026-0042".
func ValidateDocumentNumber(field, number string) error {
	if !policyNumberRegex.MatchString(number) {
		return fmt.Errorf("invalid %s: %q", field, number)
	}
	return nil
}
