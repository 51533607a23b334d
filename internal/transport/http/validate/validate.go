package validate

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fraruiz/pgmb/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Struct runs the validator tags on a request DTO and folds failures into a
// single validation error with per-field meta.
func Struct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.ErrValidation("invalid request")
	}

	meta := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		meta[fe.Field()] = "failed " + fe.Tag() + " validation"
	}
	return domain.ErrValidationMeta("invalid request body", meta)
}
