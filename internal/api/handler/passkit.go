// Package handler provides HTTP handlers for the pass web service.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/api/middleware"
	"github.com/passrelay/passrelay/internal/api/models"
	"github.com/passrelay/passrelay/internal/api/response"
	"github.com/passrelay/passrelay/internal/passkit"
	"github.com/passrelay/passrelay/internal/pkpass"
)

// PassKitHandler implements the device-facing web service endpoints.
//
// This surface speaks Apple's contract: bare status codes, empty bodies on
// the registration paths, and exact JSON shapes elsewhere. Wallet ignores
// response bodies on errors, so no problem+json here.
type PassKitHandler struct {
	service *passkit.Service
	logger  zerolog.Logger
}

// NewPassKitHandler creates a new PassKitHandler.
func NewPassKitHandler(service *passkit.Service, logger zerolog.Logger) *PassKitHandler {
	return &PassKitHandler{service: service, logger: logger}
}

// RegisterDevice handles
// POST /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}.
// 201 when the registration is new, 200 when it already existed.
func (h *PassKitHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceLibraryIdentifier")
	passTypeID := chi.URLParam(r, "passTypeIdentifier")
	serialNumber := chi.URLParam(r, "serialNumber")
	if deviceID == "" || passTypeID == "" || serialNumber == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var body models.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PushToken == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	token := middleware.GetApplePassToken(r.Context())

	created, err := h.service.Register(r.Context(), deviceID, passTypeID, serialNumber, token, body.PushToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// UnregisterDevice handles
// DELETE /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}.
// Removing an absent registration is a 200: the end state is what was asked for.
func (h *PassKitHandler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceLibraryIdentifier")
	passTypeID := chi.URLParam(r, "passTypeIdentifier")
	serialNumber := chi.URLParam(r, "serialNumber")
	if deviceID == "" || passTypeID == "" || serialNumber == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	token := middleware.GetApplePassToken(r.Context())

	if err := h.service.Unregister(r.Context(), deviceID, passTypeID, serialNumber, token); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ListUpdatedSerials handles
// GET /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}?passesUpdatedSince=<ts>.
// No per-pass bearer check: Wallet calls this without a specific pass's token.
// An empty serial list is the common quiet-path answer, returned as 200.
func (h *PassKitHandler) ListUpdatedSerials(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceLibraryIdentifier")
	passTypeID := chi.URLParam(r, "passTypeIdentifier")
	if deviceID == "" || passTypeID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	since := parseUpdatedSince(r.URL.Query().Get("passesUpdatedSince"))

	result, err := h.service.ListUpdatedSerials(r.Context(), deviceID, passTypeID, since)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.UpdatedSerialsResponse{
		LastUpdated:   result.LastUpdated.Format(time.RFC3339),
		SerialNumbers: result.SerialNumbers,
	})
}

// FetchUpdatedPass handles GET /v1/passes/{passTypeIdentifier}/{serialNumber}.
// Returns the freshly signed bundle with the PassKit content type.
func (h *PassKitHandler) FetchUpdatedPass(w http.ResponseWriter, r *http.Request) {
	passTypeID := chi.URLParam(r, "passTypeIdentifier")
	serialNumber := chi.URLParam(r, "serialNumber")
	if passTypeID == "" || serialNumber == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	token := middleware.GetApplePassToken(r.Context())

	data, err := h.service.FetchPass(r.Context(), passTypeID, serialNumber, token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", pkpass.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", serialNumber+".pkpass"))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Log handles POST /v1/log, Wallet's diagnostic sink. Always 200; the body is
// logged for operators and otherwise ignored.
func (h *PassKitHandler) Log(w http.ResponseWriter, r *http.Request) {
	var body models.LogRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		for _, line := range body.Logs {
			h.logger.Info().Str("source", "wallet").Msg(line)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// writeServiceError maps service errors onto Apple's status codes.
func (h *PassKitHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, passkit.ErrUnauthorized):
		w.WriteHeader(http.StatusUnauthorized)
	case errors.Is(err, passkit.ErrPassNotFound):
		w.WriteHeader(http.StatusNotFound)
	default:
		h.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("web service operation failed")
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// parseUpdatedSince interprets the passesUpdatedSince tag. Devices echo back
// whatever lastUpdated we previously returned (RFC3339); integer Unix seconds
// are accepted for older clients. Anything else means "everything", i.e. the
// epoch.
func parseUpdatedSince(raw string) time.Time {
	if raw == "" {
		return time.Unix(0, 0)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0)
	}
	return time.Unix(0, 0)
}
