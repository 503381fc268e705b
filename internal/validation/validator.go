package validation

import (
	"fmt"

	"github.com/devrev/pairdb/storage-rent/internal/errors"
)

const (
	// Account ID length limits
	MinAccountIDLen = 2
	MaxAccountIDLen = 64
)

// Validator validates account identifiers supplied to rent operations
type Validator struct {
	maxAccountIDLen int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxAccountIDLen: MaxAccountIDLen,
	}
}

// NewValidatorWithLimits creates a validator with a custom maximum ID length
func NewValidatorWithLimits(maxAccountIDLen int) *Validator {
	return &Validator{
		maxAccountIDLen: maxAccountIDLen,
	}
}

// MaxAccountIDLen returns the longest identifier the validator accepts
func (v *Validator) MaxAccountIDLen() int {
	return v.maxAccountIDLen
}

// ValidateAccountID validates an account identifier.
// Identifiers are lowercase alphanumeric parts separated by a single
// '-', '_' or '.', e.g. "alice.near" or "app_1-test.near".
func (v *Validator) ValidateAccountID(accountID string) error {
	if len(accountID) < MinAccountIDLen {
		return errors.InvalidAccountID(accountID, fmt.Sprintf("account ID must be at least %d bytes", MinAccountIDLen))
	}

	if len(accountID) > v.maxAccountIDLen {
		return errors.InvalidAccountID(accountID, fmt.Sprintf("account ID exceeds maximum size of %d bytes", v.maxAccountIDLen))
	}

	lastWasSeparator := true // a leading separator is rejected
	for i := 0; i < len(accountID); i++ {
		c := accountID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			lastWasSeparator = false
		case c == '-', c == '_', c == '.':
			if lastWasSeparator {
				return errors.InvalidAccountID(accountID, fmt.Sprintf("unexpected separator at position %d", i))
			}
			lastWasSeparator = true
		default:
			return errors.InvalidAccountID(accountID, fmt.Sprintf("invalid character %q at position %d", c, i))
		}
	}

	if lastWasSeparator {
		return errors.InvalidAccountID(accountID, "account ID cannot end with a separator")
	}

	return nil
}
