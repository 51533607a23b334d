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

func (h *BrokerHandler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateWorkerReq
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Err(w, r, err)
		return
	}

	worker, err := h.svc.CreateWorker(r.Context(), broker.CreateWorkerCmd{
		Name:     req.Name,
		Endpoint: req.Endpoint,
		RPS:      req.RPS,
	})
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Data(w, http.StatusCreated, dto.ToWorkerResp(worker))
}

func (h *BrokerHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.svc.ListWorkers(r.Context())
	if err != nil {
		response.Err(w, r, err)
		return
	}
	out := make([]dto.WorkerResp, 0, len(workers))
	for _, wk := range workers {
		out = append(out, dto.ToWorkerResp(wk))
	}
	response.Data(w, http.StatusOK, out)
}

func (h *BrokerHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "worker_id")
	if !validate.IsUUID(id) {
		response.Err(w, r, domain.ErrValidationMeta("invalid path param", map[string]string{
			"worker_id": "must be uuid",
		}))
		return
	}
	worker, err := h.svc.GetWorker(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, dto.ToWorkerResp(worker))
}

// DeleteWorker cascades: every queue bound to the worker is destroyed first.
func (h *BrokerHandler) DeleteWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "worker_id")
	if !validate.IsUUID(id) {
		response.Err(w, r, domain.ErrValidationMeta("invalid path param", map[string]string{
			"worker_id": "must be uuid",
		}))
		return
	}
	if err := h.svc.DeleteWorker(r.Context(), id); err != nil {
		response.Err(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BrokerHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "worker_id")
	if !validate.IsUUID(id) {
		response.Err(w, r, domain.ErrValidationMeta("invalid path param", map[string]string{
			"worker_id": "must be uuid",
		}))
		return
	}
	if err := h.svc.Heartbeat(r.Context(), id); err != nil {
		response.Err(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
