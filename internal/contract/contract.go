// Package contract handles option contract key parsing, validation, and
// expiry-value helpers.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/atmx/pnl-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Right is the option right.
type Right string

const (
	Call Right = "C"
	Put  Right = "P"
)

// keyRegex matches: {UNDERLYING}-{C|P}-{STRIKE}-{YYYYMMDD}
// Example: AAPL-C-187.5-20240119
var keyRegex = regexp.MustCompile(
	`^([A-Z][A-Z0-9.]{0,9})-([CP])-([0-9]+(?:\.[0-9]+)?)-(\d{8})$`,
)

var (
	ErrInvalidContractKey = errors.New("contract: invalid contract key")
	ErrInvalidRight       = errors.New("contract: unsupported option right")
)

// Contract is a parsed listed option series.
type Contract struct {
	Key        string          `json:"key"`
	Underlying string          `json:"underlying"`
	Right      Right           `json:"right"`
	Strike     decimal.Decimal `json:"strike"`
	Expiry     model.Day       `json:"expiry"`
}

// Parse parses and validates a contract key.
// Format: {UNDERLYING}-{C|P}-{STRIKE}-{YYYYMMDD}
func Parse(key string) (*Contract, error) {
	matches := keyRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(key)))
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {underlying}-{C|P}-{strike}-{YYYYMMDD})",
			ErrInvalidContractKey, key)
	}

	strike, err := decimal.NewFromString(matches[3])
	if err != nil || !strike.IsPositive() {
		return nil, fmt.Errorf("%w: strike %s", ErrInvalidContractKey, matches[3])
	}

	expiry, err := time.Parse("20060102", matches[4])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidContractKey, matches[4])
	}

	c := &Contract{
		Underlying: matches[1],
		Right:      Right(matches[2]),
		Strike:     strike,
		Expiry:     model.Day(expiry.Format(model.DayLayout)),
	}
	c.Key = c.String()
	return c, nil
}

// ParseRight accepts C, CALL, P or PUT in any case.
func ParseRight(s string) (Right, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CALL":
		return Call, nil
	case "P", "PUT":
		return Put, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRight, s)
}

// Key builds the canonical contract key from its parts.
func Key(underlying string, right Right, strike decimal.Decimal, expiry model.Day) (string, error) {
	c := Contract{
		Underlying: model.NormalizeSymbol(underlying),
		Right:      right,
		Strike:     strike,
		Expiry:     expiry,
	}
	parsed, err := Parse(c.String())
	if err != nil {
		return "", err
	}
	return parsed.Key, nil
}

// String returns the canonical key.
func (c Contract) String() string {
	return fmt.Sprintf("%s-%s-%s-%s", c.Underlying, c.Right, c.Strike.String(),
		strings.ReplaceAll(string(c.Expiry), "-", ""))
}

// Display returns a human-readable label, e.g. "AAPL 2024-01-19 187.5 Call".
func (c Contract) Display() string {
	right := "Call"
	if c.Right == Put {
		right = "Put"
	}
	return fmt.Sprintf("%s %s %s %s", c.Underlying, c.Expiry, c.Strike.String(), right)
}

// Expired reports whether the series has expired as of day. An option
// trades through its expiry day.
func (c Contract) Expired(day model.Day) bool {
	return day.After(c.Expiry)
}

// Intrinsic returns the per-share exercise value against an underlying
// price. Never negative.
func (c Contract) Intrinsic(underlying decimal.Decimal) decimal.Decimal {
	var v decimal.Decimal
	if c.Right == Call {
		v = underlying.Sub(c.Strike)
	} else {
		v = c.Strike.Sub(underlying)
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
