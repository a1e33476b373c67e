package models

import (
	"errors"
	"fmt"
)

// ErrValidation reports a model field that failed validation.
type ErrValidation struct {
	Field   string
	Message string
}

func (e ErrValidation) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	ErrNameRequired          = errors.New("name is required")
	ErrDeviceIDRequired      = errors.New("device_id is required")
	ErrJobIDRequired         = errors.New("job_id is required")
	ErrDeviceProfileNotFound = errors.New("device profile not found")
)
