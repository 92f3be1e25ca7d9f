package auth

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// JoinRequest is the registration input of one role. Exactly one of Password
// (local provider) or Assertion (federated provider) is set.
type JoinRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	TenantID    string `json:"tenant_id"`
	Provider    string `json:"provider"`
	Assertion   string `json:"assertion"`
}

func (r *JoinRequest) normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	r.TenantID = strings.TrimSpace(r.TenantID)
	r.Provider = strings.TrimSpace(r.Provider)
	if r.Provider == "" {
		r.Provider = ProviderLocal
	}
}

// Local reports whether the request registers an email+password credential.
func (r JoinRequest) Local() bool {
	return r.Provider == "" || r.Provider == ProviderLocal
}

// Validate checks the request shape for desc. Password strength is checked
// separately against desc.Policy.
func (r JoinRequest) Validate(desc Descriptor) error {
	tenantRules := []validation.Rule{blank("is not accepted for role " + string(desc.Role))}
	if desc.TenantScoped {
		tenantRules = []validation.Rule{validation.Required, validation.Length(1, 64)}
	}
	passwordRules := []validation.Rule{validation.Required}
	assertionRules := []validation.Rule{blank("is only accepted with a federated provider")}
	if !r.Local() {
		passwordRules = []validation.Rule{blank("is not accepted with a federated provider")}
		assertionRules = []validation.Rule{validation.Required}
	}
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.DisplayName, validation.Length(0, 120)),
		validation.Field(&r.TenantID, tenantRules...),
		validation.Field(&r.Password, passwordRules...),
		validation.Field(&r.Assertion, assertionRules...),
	)
	return validationError(err)
}

func blank(reason string) validation.Rule {
	return validation.By(func(value interface{}) error {
		if s, _ := value.(string); strings.TrimSpace(s) != "" {
			return errors.New(reason)
		}
		return nil
	})
}

// validationError converts ozzo field errors into a *ValidationError.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fields validation.Errors
	if !errors.As(err, &fields) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(fields))}
	for name, ferr := range fields {
		if ferr != nil {
			out.Fields[name] = ferr.Error()
		}
	}
	return out
}
