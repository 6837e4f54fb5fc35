package handlers

import (
	"errors"
	"net/http"

	"campus-utilities/internal/models"
	"campus-utilities/internal/services"
)

// classify returns the status code for err and optional response details
func classify(err error) (int, interface{}) {
	var (
		validation  *models.ValidationError
		notFound    *models.NotFoundError
		parse       *models.ParseError
		persistence *models.PersistenceError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, map[string]string{"field": validation.Field}
	case errors.As(err, &notFound):
		return http.StatusNotFound, nil
	case errors.As(err, &parse):
		return http.StatusUnprocessableEntity, map[string]interface{}{
			"unmatched_count": parse.UnmatchedCount,
			"sample":          parse.Sample,
		}
	case errors.As(err, &persistence):
		return http.StatusServiceUnavailable, nil
	case errors.Is(err, errNoSession):
		return http.StatusUnauthorized, nil
	case errors.Is(err, services.ErrNoPeriod), errors.Is(err, services.ErrEditorClosed):
		return http.StatusConflict, nil
	default:
		return http.StatusInternalServerError, nil
	}
}

func errorType(status int) string {
	switch status {
	case http.StatusServiceUnavailable:
		return "persistence_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return "client_error"
	}
}
