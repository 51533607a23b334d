package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fraruiz/pgmb/internal/application/broker"
	"github.com/fraruiz/pgmb/internal/domain"
	"github.com/fraruiz/pgmb/internal/transport/http/dto"
	"github.com/fraruiz/pgmb/internal/transport/http/response"
	"github.com/fraruiz/pgmb/internal/transport/http/validate"
)

// Publish accepts a message and fans it out. 202: the broker owns delivery
// from here; zero matched queues is still success.
func (h *BrokerHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req dto.PublishReq
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Err(w, r, err)
		return
	}

	res, err := h.svc.Publish(r.Context(), broker.PublishCmd{
		ID:         req.ID,
		RoutingKey: req.RoutingKey,
		Body:       req.Body,
		Headers:    req.Headers,
		Visibility: req.Visibility.Domain(),
	})
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.Data(w, http.StatusAccepted, dto.ToPublishResp(res))
}

func (h *BrokerHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "message_id")
	if !validate.IsUUID(id) {
		response.Err(w, r, domain.ErrValidationMeta("invalid path param", map[string]string{
			"message_id": "must be uuid",
		}))
		return
	}
	m, err := h.svc.GetMessage(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, dto.ToMessageResp(m))
}
