package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/models"
	"github.com/jmylchreest/encodr/internal/scheduler"
	"github.com/jmylchreest/encodr/internal/service"
	"github.com/jmylchreest/encodr/internal/service/progress"
	"github.com/jmylchreest/encodr/internal/transcode"
)

// apiError maps domain errors onto HTTP status codes.
func apiError(err error) error {
	var verr *encoding.ValidationError
	var merr models.ErrValidation
	switch {
	case errors.As(err, &verr):
		return huma.Error400BadRequest(verr.Error(), err)
	case errors.As(err, &merr):
		return huma.Error400BadRequest(merr.Error(), err)
	case errors.Is(err, encoding.ErrValidation),
		errors.Is(err, models.ErrNameRequired),
		errors.Is(err, models.ErrDeviceIDRequired):
		return huma.Error400BadRequest(err.Error(), err)
	case errors.Is(err, encoding.ErrItemNotFound),
		errors.Is(err, encoding.ErrMediaSourceNotFound),
		errors.Is(err, transcode.ErrJobNotFound),
		errors.Is(err, models.ErrDeviceProfileNotFound),
		errors.Is(err, progress.ErrOperationNotFound),
		errors.Is(err, scheduler.ErrTaskNotFound):
		return huma.Error404NotFound(err.Error(), err)
	case errors.Is(err, service.ErrDeviceProfileNameTaken),
		errors.Is(err, transcode.ErrJobExited),
		errors.Is(err, scheduler.ErrTaskRunning):
		return huma.Error409Conflict(err.Error(), err)
	case errors.Is(err, encoding.ErrResourceAcquisition),
		errors.Is(err, encoding.ErrProcessStart):
		return huma.Error502BadGateway(err.Error(), err)
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error(), err)
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
