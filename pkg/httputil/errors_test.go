package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/teamgate/pkg/apperr"
)

func TestWriteAppError_NotFound(t *testing.T) {
	w := httptest.NewRecorder()

	WriteAppError(w, apperr.NotFound("team", 42))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "team")
}

func TestWriteAppError_Denied(t *testing.T) {
	w := httptest.NewRecorder()

	WriteAppError(w, apperr.Denied("only the team owner may remove members"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "owner")
}

func TestWriteAppError_Conflict(t *testing.T) {
	w := httptest.NewRecorder()

	WriteAppError(w, apperr.Conflict("user is already a member of this team"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already a member")
}

func TestWriteAppError_Validation(t *testing.T) {
	w := httptest.NewRecorder()

	verr := apperr.Validation("email", "must be a valid email address").
		Add("role", "must be one of the configured member roles")
	WriteAppError(w, verr)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "email")
	assert.Contains(t, w.Body.String(), "role")
}

func TestWriteAppError_Infrastructure(t *testing.T) {
	w := httptest.NewRecorder()

	WriteAppError(w, apperr.Infrastructure("teams.AddMember", errors.New("pq: connection refused")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), apperr.GenericFailureMessage)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestWriteAppError_Unknown(t *testing.T) {
	w := httptest.NewRecorder()

	WriteAppError(w, errors.New("surprise"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), apperr.GenericFailureMessage)
	assert.NotContains(t, w.Body.String(), "surprise")
}

func TestWriteAppError_Wrapped(t *testing.T) {
	w := httptest.NewRecorder()

	wrapped := fmt.Errorf("adding member: %w", apperr.NotFound("user", "missing@example.com"))
	WriteAppError(w, wrapped)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
