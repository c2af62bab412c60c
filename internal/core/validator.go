package core

import (
	"github.com/go-playground/validator/v10"

	"estatecrm/internal/types"
)

// Validator wraps go-playground/validator and translates violations into
// validation AppErrors with per-field details.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Struct validates s against its struct tags.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeValidationBadPayload, "request validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = "failed '" + fe.Tag() + "' validation"
	}
	appErr := types.NewAppError(types.ErrCodeValidationMissingField, "request validation failed", err)
	return appErr.WithDetails(map[string]any{"fields": fields})
}
