/**
 * @description
 * Package validation holds the pure format checks shared by the SDK and the backend
 * route handlers. Every validator returns a boolean; callers that need user-facing
 * detail wrap the outcome in a field-level error themselves.
 */
package validation

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	emailPattern       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	ibanPattern        = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{1,30}$`)
	ibanPrefixPattern  = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}`)
	swiftPattern       = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	accountDigitsRegex = regexp.MustCompile(`^[0-9]{6,20}$`)
)

// CurrencySet maps supported ISO currency codes to display names.
type CurrencySet map[string]string

// DefaultCurrencies is the currency table of the reference deployment.
var DefaultCurrencies = CurrencySet{
	"USD": "US Dollar",
	"EUR": "Euro",
	"CUP": "Cuban Peso",
}

// NewCurrencySet builds a set from a list of codes. Codes without a known name
// keep the code as their name. Empty input returns a copy of DefaultCurrencies.
func NewCurrencySet(codes []string) CurrencySet {
	set := CurrencySet{}
	for _, raw := range codes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		if name, ok := DefaultCurrencies[code]; ok {
			set[code] = name
			continue
		}
		set[code] = code
	}
	if len(set) == 0 {
		for code, name := range DefaultCurrencies {
			set[code] = name
		}
	}
	return set
}

// Validate reports whether code is a key of the set.
func (s CurrencySet) Validate(code string) bool {
	_, ok := s[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// Codes returns the sorted currency codes of the set.
func (s CurrencySet) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ValidateCurrency checks code against DefaultCurrencies.
func ValidateCurrency(code string) bool {
	return DefaultCurrencies.Validate(code)
}

// AmountRange bounds an amount. A nil Max means unbounded.
type AmountRange struct {
	Min float64
	Max *float64
}

// ValidateAmount checks that amount is a finite number within the range.
// Without a range the minimum is 0.
func ValidateAmount(amount float64, bounds ...AmountRange) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false
	}
	r := AmountRange{}
	if len(bounds) > 0 {
		r = bounds[0]
	}
	if amount < r.Min {
		return false
	}
	if r.Max != nil && amount > *r.Max {
		return false
	}
	return true
}

// ValidateEmail applies a light local@domain.tld check.
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// ValidatePhone accepts 7 to 15 digits once every non-digit is stripped.
func ValidatePhone(phone string) bool {
	digits := DigitsOnly(phone)
	return len(digits) >= 7 && len(digits) <= 15
}

// ValidateIBAN checks the IBAN shape and the exact length registered for its
// country. Unknown countries are rejected.
func ValidateIBAN(iban string) bool {
	clean := normalizeCode(iban)
	if !ibanPattern.MatchString(clean) {
		return false
	}
	length, ok := ibanLengths[clean[:2]]
	if !ok {
		return false
	}
	return len(clean) == length
}

// ValidateSWIFT checks an 8 or 11 character SWIFT/BIC code.
func ValidateSWIFT(code string) bool {
	return swiftPattern.MatchString(normalizeCode(code))
}

// ValidateAccountNumber accepts an IBAN or a plain 6-20 digit account/card number.
func ValidateAccountNumber(accountNumber string) bool {
	clean := normalizeCode(strings.ReplaceAll(accountNumber, "-", ""))
	if ibanPrefixPattern.MatchString(clean) {
		return ValidateIBAN(clean)
	}
	return accountDigitsRegex.MatchString(clean)
}

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
