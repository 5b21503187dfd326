package auth

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/halcyon-id/halcyon-id/internal/shared"
	"github.com/halcyon-id/halcyon-id/internal/token"
	"github.com/halcyon-id/halcyon-id/internal/users"
)

// RegisterInput is the registration request body.
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	Password2 string `json:"password2" validate:"required"`
	Name      string `json:"name" validate:"max=255"`
}

// LoginInput is the login request body.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is the login response body.
type LoginResult struct {
	Email    string     `json:"email"`
	JWTToken token.Pair `json:"jwt_token"`
}

// ForgotPasswordInput is the forgot-password request body.
type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPasswordResult acknowledges that reset delivery was dispatched. The
// raw token travels only on the out-of-band channel.
type ForgotPasswordResult struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// ResetPasswordInput is the reset-password request body.
type ResetPasswordInput struct {
	Token        string `json:"token" validate:"required"`
	NewPassword  string `json:"new_password" validate:"required"`
	NewPassword2 string `json:"new_password2" validate:"required"`
}

// UpdateProfileInput carries a partial profile update; nil fields stay
// untouched.
type UpdateProfileInput struct {
	Email *string `json:"email" validate:"omitempty,email"`
	Name  *string `json:"name" validate:"omitempty,max=255"`
}

// RefreshInput is the token refresh request body.
type RefreshInput struct {
	Refresh string `json:"refresh" validate:"required"`
}

// VerifyTokenInput is the token verification request body.
type VerifyTokenInput struct {
	Token string `json:"token" validate:"required"`
}

// ProfileResult is the public account projection returned by profile and
// registration endpoints.
type ProfileResult = users.Profile

// validationError folds the first field error into the closed validation
// error kind.
func validationError(err error) error {
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return fmt.Errorf("%w: field %s is %s", shared.ErrValidation, first.Field(), first.Tag())
	}
	return fmt.Errorf("%w: malformed request", shared.ErrValidation)
}
