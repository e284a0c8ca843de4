package accounts

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Password bounds. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 72
	MinUsernameLength = 3
	MaxUsernameLength = 50
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// usernameRules are shared by registration and the admin endpoints. The
// presence rule comes first so updates can make the field optional.
func usernameRules(presence validation.Rule) []validation.Rule {
	return []validation.Rule{
		presence,
		validation.Length(MinUsernameLength, MaxUsernameLength),
		validation.Match(usernamePattern).Error("may only contain letters, digits, dots, dashes and underscores"),
	}
}

func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(MinPasswordLength, MaxPasswordLength),
	}
}

// roleRule expects the role as a plain string
func roleRule() validation.Rule {
	return validation.In(string(RoleUser), string(RoleAdmin), string(RoleSuperAdmin)).Error("must be one of user, admin, superadmin")
}

// FormatValidationErrorToMap flattens ozzo validation errors into field messages.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var errs validation.Errors
	if errors.As(err, &errs) {
		for field, fieldErr := range errs {
			if fieldErr != nil {
				out[field] = fieldErr.Error()
			}
		}
		return out
	}

	out["_"] = err.Error()
	return out
}

// asValidationError converts the result of a Validate call to the
// service validation error.
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	return NewValidationError("validation failed", FormatValidationErrorToMap(err))
}
