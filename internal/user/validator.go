package user

import (
	"bytes"
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxAvatarLength bounds the avatar string (URL or data URI).
const MaxAvatarLength = 19_000_000

var simpleEmail = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type RegisterInput struct {
	Email    string  `json:"email" validate:"required,simple_email"`
	Password string  `json:"password" validate:"required,min=6,max=100"`
	Name     *string `json:"name" validate:"omitnil,min=1,max=50"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,simple_email"`
	Password string `json:"password" validate:"required"`
}

type ProfileInput struct {
	Name   *string `json:"name" validate:"omitnil,min=1,max=50"`
	Avatar *string `json:"avatar" validate:"omitnil,max=19000000"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=100"`
}

// messages maps "<json field>.<tag>" to the text reported to clients.
var messages = map[string]string{
	"email.required":           "Email is required",
	"email.simple_email":       "Please provide a valid email",
	"password.required":        "Password is required",
	"password.min":             "Password must be between 6 and 100 characters",
	"password.max":             "Password must be between 6 and 100 characters",
	"name.min":                 "Name must be between 1 and 50 characters",
	"name.max":                 "Name must be between 1 and 50 characters",
	"avatar.max":               "Avatar must be at most 19000000 characters",
	"currentPassword.required": "Current password is required",
	"newPassword.required":     "New password is required",
	"newPassword.min":          "New password must be between 6 and 100 characters",
	"newPassword.max":          "New password must be between 6 and 100 characters",
	"newPassword.differs":      "New password must be different from current password",
}

// Validator runs the per-operation rule sets. It normalizes inputs in place
// (email lowercased and trimmed, name and avatar trimmed) and reports every
// failed field at once.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("simple_email", func(fl validator.FieldLevel) bool {
		return simpleEmail.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(passwordsDiffer, ChangePasswordInput{})
	return &Validator{v: v}
}

// passwordsDiffer runs even when newPassword already failed a field rule.
// Passwords are compared as the hasher sees them.
func passwordsDiffer(sl validator.StructLevel) {
	in := sl.Current().Interface().(ChangePasswordInput)
	if in.CurrentPassword == "" || in.NewPassword == "" {
		return
	}
	if bytes.Equal(clamp(in.CurrentPassword), clamp(in.NewPassword)) {
		sl.ReportError(in.NewPassword, "newPassword", "NewPassword", "differs", "")
	}
}

func (val *Validator) Register(in *RegisterInput) error {
	in.Email = normalizeEmail(in.Email)
	in.Name = trimPtr(in.Name)
	return val.check(in)
}

func (val *Validator) Login(in *LoginInput) error {
	in.Email = normalizeEmail(in.Email)
	return val.check(in)
}

func (val *Validator) Profile(in *ProfileInput) error {
	in.Name = trimPtr(in.Name)
	in.Avatar = trimPtr(in.Avatar)
	return val.check(in)
}

func (val *Validator) ChangePassword(in *ChangePasswordInput) error {
	return val.check(in)
}

func (val *Validator) check(in any) error {
	err := val.v.Struct(in)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	out := &ValidationError{Details: make([]FieldError, 0, len(ves))}
	for _, fe := range ves {
		msg, ok := messages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fe.Field() + " is invalid"
		}
		out.Details = append(out.Details, FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
