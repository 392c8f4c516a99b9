package httputil

import (
	"net/http"

	"github.com/platinummonkey/teamgate/pkg/apperr"
)

// ValidationErrorResponse carries per-field validation messages.
type ValidationErrorResponse struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// WriteAppError maps a domain error to the appropriate HTTP status and body.
// Infrastructure errors never leak their underlying cause to the client.
func WriteAppError(w http.ResponseWriter, err error) {
	var verr *apperr.ValidationError
	if apperr.AsValidation(err, &verr) {
		WriteJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:  verr.Error(),
			Fields: verr.Fields,
		})
		return
	}

	switch {
	case apperr.IsNotFound(err):
		WriteErrorMessage(w, http.StatusNotFound, err.Error())
	case apperr.IsDenied(err):
		WriteErrorMessage(w, http.StatusForbidden, err.Error())
	case apperr.IsConflict(err):
		WriteErrorMessage(w, http.StatusConflict, err.Error())
	default:
		WriteErrorMessage(w, http.StatusInternalServerError, apperr.GenericFailureMessage)
	}
}
