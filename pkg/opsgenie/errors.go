package opsgenie

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/retry"
)

// ErrMissingData is returned when a successful response carries no data.
var ErrMissingData = errors.New("response has no data")

// APIError represents an Opsgenie error response.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
	Route      string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("opsgenie %s error (status %d) on %s: %s [request %s]",
			e.Class(), e.StatusCode, e.Route, e.Message, e.RequestID)
	}
	return fmt.Sprintf("opsgenie %s error (status %d) on %s: %s",
		e.Class(), e.StatusCode, e.Route, e.Message)
}

// Class classifies the error for retry decisions.
func (e *APIError) Class() retry.ErrorClass {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return retry.ErrorClassRateLimit
	case e.StatusCode == http.StatusRequestTimeout:
		return retry.ErrorClassNetwork
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return retry.ErrorClassClient
	case e.StatusCode >= 500:
		return retry.ErrorClassServer
	default:
		return retry.ErrorClassUnknown
	}
}

// NotApplicable reports whether the requested sub-resource does not exist for
// this entity, e.g. actions of a basic integration.
func (e *APIError) NotApplicable() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusUnprocessableEntity
}

// IsNotApplicable reports whether err carries a NotApplicable API error.
func IsNotApplicable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotApplicable()
}
