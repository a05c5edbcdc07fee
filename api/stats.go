package api

import (
	"net/http"

	"github.com/tallyhq/webhooks/delivery"
)

type statsResponse struct {
	PendingDeliveries int64                     `json:"pending_deliveries"`
	DLQSize           int64                     `json:"dlq_size"`
	ByStatus          map[delivery.Status]int64 `json:"by_status,omitempty"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := h.engine.Store().CountPending(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dlqCount, err := h.engine.DLQ().Count(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := statsResponse{
		PendingDeliveries: pending,
		DLQSize:           dlqCount,
	}

	if tenantID := queryParam(r, "tenant_id"); tenantID != "" {
		counts, countErr := h.engine.Store().CountByStatus(ctx, tenantID)
		if countErr != nil {
			writeError(w, http.StatusInternalServerError, countErr.Error())
			return
		}
		resp.ByStatus = counts
	}

	writeJSON(w, http.StatusOK, resp)
}
