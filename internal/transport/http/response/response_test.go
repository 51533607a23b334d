package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraruiz/pgmb/internal/domain"
	appCtx "github.com/fraruiz/pgmb/internal/pkg/context"
)

func TestData_WrapsEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	Data(rr, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "abc", body.Data["id"])
}

func TestErr_MapsDomainCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.ErrValidation("bad input"), http.StatusBadRequest, "validation_error"},
		{"not_found", domain.ErrNotFound("queue not found"), http.StatusNotFound, "not_found"},
		{"conflict", domain.ErrConflict("duplicate id"), http.StatusConflict, "conflict"},
		{"invalid_state", domain.ErrInvalidState("already leased"), http.StatusConflict, "invalid_state"},
		{"unknown", errors.New("pg down"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			Err(rr, req, tt.err)

			assert.Equal(t, tt.status, rr.Code)

			var body ErrorBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestErr_DoesNotLeakInternalDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	Err(rr, req, errors.New("dial tcp 10.0.0.3:5432: connection refused"))

	assert.NotContains(t, rr.Body.String(), "10.0.0.3")
}

func TestRequestIDFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "from-header")
	assert.Equal(t, "from-header", RequestIDFromRequest(req))

	req = req.WithContext(appCtx.WithRequestID(req.Context(), "from-ctx"))
	assert.Equal(t, "from-ctx", RequestIDFromRequest(req))
}
