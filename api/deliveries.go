package api

import (
	"errors"
	"net/http"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}

	if statusStr := queryParam(r, "status"); statusStr != "" {
		status := delivery.Status(statusStr)
		opts.Status = &status
	}

	deliveries, listErr := h.engine.Deliveries().List(r.Context(), subID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}
	delID, err := id.ParseDeliveryID(r.PathValue("delivery_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, getErr := h.engine.Deliveries().Get(r.Context(), subID, delID)
	if getErr != nil {
		if errors.Is(getErr, webhooks.ErrDeliveryNotFound) {
			writeError(w, http.StatusNotFound, "delivery not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) redeliver(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}
	delID, err := id.ParseDeliveryID(r.PathValue("delivery_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, redeliverErr := h.engine.Deliveries().Redeliver(r.Context(), subID, delID)
	if redeliverErr != nil {
		switch {
		case errors.Is(redeliverErr, webhooks.ErrDeliveryNotFound):
			writeError(w, http.StatusNotFound, "delivery not found")
		case errors.Is(redeliverErr, webhooks.ErrNotRedeliverable):
			writeError(w, http.StatusConflict, "delivery is not in a redeliverable state")
		default:
			writeError(w, http.StatusInternalServerError, redeliverErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, d)
}

func (h *Handler) listDeadDeliveries(w http.ResponseWriter, r *http.Request) {
	tenantID := queryParam(r, "tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}

	deliveries, err := h.engine.Deliveries().ListDead(r.Context(), tenantID, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}
