package auth

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)

// LoginPayload is the password login form
type LoginPayload struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	Remember   bool   `form:"remember" json:"remember"`
	RedirectTo string `form:"redirect_to" json:"redirect_to"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required, validation.Length(3, 254)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 200)),
	)
}

// OnboardingPayload completes a provider onboarding
type OnboardingPayload struct {
	VerificationID  string `form:"verification" json:"verification"`
	Username        string `form:"username" json:"username"`
	Name            string `form:"name" json:"name"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
	AgreeToTerms    bool   `form:"agree_to_terms" json:"agree_to_terms"`
	Remember        bool   `form:"remember" json:"remember"`
}

func (r OnboardingPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.VerificationID, validation.Required),
		validation.Field(&r.Username,
			validation.Required,
			validation.Match(usernamePattern).Error("must be 3 to 20 lower case letters, digits or underscores"),
		),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Password, validation.Length(10, 100)),
		validation.Field(&r.ConfirmPassword, validation.By(ValidateStringEquals(r.Password))),
		validation.Field(&r.AgreeToTerms, validation.By(mustBeTrue("you must agree to the terms"))),
	)
}

// PasswordResetRequestPayload starts a password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 254), is.Email),
	)
}

// PasswordResetPayload finalizes a password reset
type PasswordResetPayload struct {
	VerificationID  string `form:"verification" json:"verification"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (r PasswordResetPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.VerificationID, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func mustBeTrue(msg string) validation.RuleFunc {
	return func(value interface{}) error {
		b, _ := value.(bool)
		if !b {
			return errors.New(msg)
		}
		return nil
	}
}

// FieldErrors flattens ozzo validation errors into field scoped messages
func FieldErrors(err error) map[string]string {
	if err == nil {
		return nil
	}

	out := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}
