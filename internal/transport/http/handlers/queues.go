package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fraruiz/pgmb/internal/application/broker"
	"github.com/fraruiz/pgmb/internal/transport/http/dto"
	"github.com/fraruiz/pgmb/internal/transport/http/response"
	"github.com/fraruiz/pgmb/internal/transport/http/validate"
)

func (h *BrokerHandler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateQueueReq
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Err(w, r, err)
		return
	}

	q, err := h.svc.CreateQueue(r.Context(), broker.CreateQueueCmd{
		Name:           req.Name,
		BindingPattern: req.BindingPattern,
		WorkerID:       req.WorkerID,
		MaxRetries:     req.MaxRetries,
	})
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Data(w, http.StatusCreated, dto.ToQueueResp(q))
}

func (h *BrokerHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.svc.ListQueues(r.Context())
	if err != nil {
		response.Err(w, r, err)
		return
	}
	out := make([]dto.QueueResp, 0, len(queues))
	for _, q := range queues {
		out = append(out, dto.ToQueueResp(q))
	}
	response.Data(w, http.StatusOK, out)
}

// GetQueue returns the queue plus a census of its containers.
func (h *BrokerHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue_name")
	info, err := h.svc.InspectQueue(r.Context(), name)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, dto.ToQueueDetailResp(info))
}

// DeleteQueue stops the dispatch loop, then tears down the queue row and both
// containers.
func (h *BrokerHandler) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue_name")
	if err := h.svc.DeleteQueue(r.Context(), name); err != nil {
		response.Err(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BrokerHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue_name")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := h.svc.ListDeadLetters(r.Context(), name, limit)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	out := make([]dto.DeadLetterResp, 0, len(rows))
	for _, dl := range rows {
		out = append(out, dto.ToDeadLetterResp(dl))
	}
	response.Data(w, http.StatusOK, out)
}
