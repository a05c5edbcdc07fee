package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/id"
)

type createEventRequest struct {
	Type           string          `json:"type"`
	TenantID       string          `json:"tenant_id"`
	Data           json.RawMessage `json:"data"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// createEvent ingests an event through the full dispatch pipeline: catalog
// lookup, payload validation, idempotency, and fan-out.
func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	evt := &event.Event{
		Type:           req.Type,
		TenantID:       req.TenantID,
		Data:           req.Data,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := h.engine.Dispatch(r.Context(), evt); err != nil {
		switch {
		case errors.Is(err, webhooks.ErrEventTypeNotFound):
			writeError(w, http.StatusNotFound, "event type not found")
		case errors.Is(err, webhooks.ErrEventTypeDeprecated):
			writeError(w, http.StatusGone, "event type is deprecated")
		case errors.Is(err, webhooks.ErrPayloadValidationFailed):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, evt)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := event.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Type:   queryParam(r, "type"),
	}

	var (
		events []*event.Event
		err    error
	)
	if tenantID := queryParam(r, "tenant_id"); tenantID != "" {
		events, err = h.engine.Store().ListEventsByTenant(r.Context(), tenantID, opts)
	} else {
		events, err = h.engine.Store().ListEvents(r.Context(), opts)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.engine.Store().GetEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, webhooks.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}
