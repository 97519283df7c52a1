package security

import (
	"errors"
	"testing"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

func TestPasswordPolicyAcceptsStrongPassword(t *testing.T) {
	policy := NewPasswordPolicy(DefaultPasswordPolicyOptions())

	password := "C0mplex!Passphrase#2025"
	if strength := zxcvbn.PasswordStrength(password, nil); strength.Score < defaultMinZxcvbnScore {
		t.Fatalf("test password unexpectedly weak: score=%d", strength.Score)
	}
	if err := policy.Validate(password, "ada@example.com"); err != nil {
		t.Fatalf("expected password to pass validation, got %v", err)
	}
}

func TestPasswordPolicyViolations(t *testing.T) {
	policy := NewPasswordPolicy(DefaultPasswordPolicyOptions())

	cases := map[string]string{
		"Short1!":           "min_length",
		"lowercasepassword": "character_classes",
		"Password123":       "weak_password",
	}
	for password, code := range cases {
		err := policy.Validate(password)
		var vErr *PasswordValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected PasswordValidationError for %q, got %v", password, err)
		}
		if vErr.Code != code {
			t.Fatalf("expected %s for %q, got %s", code, password, vErr.Code)
		}
	}
}

func TestPasswordPolicyWithoutStrengthCheck(t *testing.T) {
	policy := NewPasswordPolicy(PasswordPolicyOptions{MinLength: 4})
	if err := policy.Validate("abcd"); err != nil {
		t.Fatalf("expected relaxed policy to accept password, got %v", err)
	}
}
