package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sumire/relay/internal/domain"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs go-playground tags on s and converts the first failure
// into a *domain.ValidationError.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fe := validationErrors[0]
		return &domain.ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
}

// clampLimit applies the listing page-size contract.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageLimit
	case limit > maxPageLimit:
		return maxPageLimit
	}
	return limit
}

// nextCursor returns the createdAt of the oldest item when the page is full.
func nextCursor(oldest time.Time, count, limit int) *time.Time {
	if count < limit || count == 0 {
		return nil
	}
	c := oldest
	return &c
}
