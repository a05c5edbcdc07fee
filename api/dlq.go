package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/id"
)

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{
		Offset:   queryInt(r, "offset", 0),
		Limit:    queryInt(r, "limit", 50),
		TenantID: queryParam(r, "tenant_id"),
	}
	if subStr := queryParam(r, "subscription_id"); subStr != "" {
		subID, err := id.ParseSubscriptionID(subStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid subscription ID")
			return
		}
		opts.SubscriptionID = &subID
	}

	entries, err := h.engine.DLQ().List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// requeueDLQ requeues the dead delivery behind a single DLQ entry.
func (h *Handler) requeueDLQ(w http.ResponseWriter, r *http.Request) {
	dlqID, err := id.ParseDLQID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DLQ ID")
		return
	}

	entry, getErr := h.engine.DLQ().Get(r.Context(), dlqID)
	if getErr != nil {
		if errors.Is(getErr, webhooks.ErrDLQNotFound) {
			writeError(w, http.StatusNotFound, "DLQ entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	d, requeueErr := h.engine.DLQ().Requeue(r.Context(), entry.DeliveryID)
	if requeueErr != nil {
		if errors.Is(requeueErr, webhooks.ErrDeliveryNotFound) {
			writeError(w, http.StatusConflict, "delivery is not dead")
			return
		}
		writeError(w, http.StatusInternalServerError, requeueErr.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, d)
}

type requeueBulkRequest struct {
	From string `json:"from"` // RFC3339
	To   string `json:"to"`   // RFC3339
}

func (h *Handler) requeueBulkDLQ(w http.ResponseWriter, r *http.Request) {
	var req requeueBulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
		return
	}

	count, requeueErr := h.engine.DLQ().RequeueBulk(r.Context(), from, to)
	if requeueErr != nil {
		writeError(w, http.StatusInternalServerError, requeueErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"requeued": count})
}
