package security

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/arklim/taskhub-auth/internal/core/port"
)

const (
	defaultMinPasswordLength   = 10
	defaultMinCharacterClasses = 3
	defaultMinZxcvbnScore      = 3
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordPolicyOptions configures the registration password policy.
type PasswordPolicyOptions struct {
	MinLength           int
	MinCharacterClasses int
	MinStrengthScore    int
}

// DefaultPasswordPolicyOptions returns the service defaults.
func DefaultPasswordPolicyOptions() PasswordPolicyOptions {
	return PasswordPolicyOptions{
		MinLength:           defaultMinPasswordLength,
		MinCharacterClasses: defaultMinCharacterClasses,
		MinStrengthScore:    defaultMinZxcvbnScore,
	}
}

// PasswordPolicy checks length, character variety, and zxcvbn strength.
type PasswordPolicy struct {
	opts PasswordPolicyOptions
}

// NewPasswordPolicy returns a policy with the given options.
func NewPasswordPolicy(opts PasswordPolicyOptions) *PasswordPolicy {
	if opts.MinStrengthScore > 4 {
		opts.MinStrengthScore = 4
	}
	return &PasswordPolicy{opts: opts}
}

// Validate returns the first violation. userInputs (email, display name) penalize passwords derived from them.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	if len([]rune(password)) < p.opts.MinLength {
		return &PasswordValidationError{
			Code:    "min_length",
			Message: fmt.Sprintf("password must be at least %d characters long", p.opts.MinLength),
		}
	}

	if p.opts.MinCharacterClasses > 0 && characterClasses(password) < p.opts.MinCharacterClasses {
		return &PasswordValidationError{
			Code:    "character_classes",
			Message: fmt.Sprintf("password must include at least %d character types", p.opts.MinCharacterClasses),
		}
	}

	if p.opts.MinStrengthScore > 0 {
		inputs := make([]string, 0, len(userInputs))
		for _, in := range userInputs {
			if in = strings.TrimSpace(in); in != "" {
				inputs = append(inputs, in)
			}
		}
		if zxcvbn.PasswordStrength(password, inputs).Score < p.opts.MinStrengthScore {
			return &PasswordValidationError{
				Code:    "weak_password",
				Message: "password is too weak; choose a more complex value",
			}
		}
	}
	return nil
}

func characterClasses(password string) int {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsSymbol(r) || unicode.IsPunct(r):
			symbol = true
		}
	}

	classes := 0
	for _, has := range []bool{upper, lower, digit, symbol} {
		if has {
			classes++
		}
	}
	return classes
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)
