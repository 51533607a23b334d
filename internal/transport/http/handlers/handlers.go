package handlers

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/fraruiz/pgmb/internal/application/broker"
	"github.com/fraruiz/pgmb/internal/domain"
	"github.com/fraruiz/pgmb/internal/transport/http/response"
)

// BrokerHandler exposes publish and the admin surface over HTTP.
type BrokerHandler struct {
	svc *broker.Service
}

func NewBrokerHandler(svc *broker.Service) *BrokerHandler {
	return &BrokerHandler{svc: svc}
}

// decode reads a JSON request body into dst. Malformed bodies become a
// validation error; a DTO-level unmarshal error keeps its own meta.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		if domain.IsCode(err, domain.CodeValidation) {
			response.Err(w, r, err)
			return false
		}
		response.Err(w, r, domain.ErrValidationMeta("invalid json body", map[string]string{
			"body": "malformed JSON",
		}))
		return false
	}
	return true
}
