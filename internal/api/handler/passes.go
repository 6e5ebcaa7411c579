package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/api/models"
	"github.com/passrelay/passrelay/internal/api/response"
	"github.com/passrelay/passrelay/internal/pass"
)

// BundleLinker resolves a distribution link for a stored bundle.
// Satisfied by storage.R2Store; nil when object storage is not configured.
type BundleLinker interface {
	GetURL(ctx context.Context, key string) (string, error)
}

// PassHandler handles the operator pass endpoints.
type PassHandler struct {
	service *pass.Service
	linker  BundleLinker
	logger  zerolog.Logger
}

// NewPassHandler creates a new PassHandler.
func NewPassHandler(service *pass.Service, linker BundleLinker, logger zerolog.Logger) *PassHandler {
	return &PassHandler{service: service, linker: linker, logger: logger}
}

// CreatePass handles POST /v1/admin/passes - issue a new pass.
// The full authentication token is returned once, here.
func (h *PassHandler) CreatePass(w http.ResponseWriter, r *http.Request) {
	var input models.PassCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body")
		return
	}
	if input.Description == "" {
		response.BadRequest(w, r, "description is required")
		return
	}

	p, err := h.service.Create(r.Context(), pass.CreateInput{
		SerialNumber:     input.SerialNumber,
		Description:      input.Description,
		OrganizationName: input.OrganizationName,
		Message:          input.Message,
	})
	if err != nil {
		if errors.Is(err, pass.ErrSerialTaken) {
			response.Conflict(w, r, "serial number already in use")
			return
		}
		h.logger.Error().Err(err).Msg("failed to create pass")
		response.InternalError(w, r, "failed to create pass")
		return
	}

	resp := h.toPassResponse(r.Context(), p)
	resp.AuthenticationToken = p.AuthenticationToken

	location := fmt.Sprintf("/v1/admin/passes/%s", p.SerialNumber)
	response.Created(w, r, location, resp)
}

// GetPass handles GET /v1/admin/passes/{serialNumber}.
func (h *PassHandler) GetPass(w http.ResponseWriter, r *http.Request) {
	serialNumber := chi.URLParam(r, "serialNumber")

	p, err := h.service.Get(r.Context(), serialNumber)
	if err != nil {
		h.writeServiceError(w, r, serialNumber, err)
		return
	}

	response.JSON(w, r, http.StatusOK, h.toPassResponse(r.Context(), p))
}

// UpdateMessage handles PUT /v1/admin/passes/{serialNumber}/message.
// The mutation commits (content + lastModifiedAt together), then registered
// devices are woken.
func (h *PassHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	serialNumber := chi.URLParam(r, "serialNumber")

	var input models.PassMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body")
		return
	}

	p, err := h.service.UpdateMessage(r.Context(), serialNumber, input.Message)
	if err != nil {
		h.writeServiceError(w, r, serialNumber, err)
		return
	}

	response.JSON(w, r, http.StatusOK, h.toPassResponse(r.Context(), p))
}

// DeletePass handles DELETE /v1/admin/passes/{serialNumber}.
// Registrations referencing the pass are removed with it.
func (h *PassHandler) DeletePass(w http.ResponseWriter, r *http.Request) {
	serialNumber := chi.URLParam(r, "serialNumber")

	if err := h.service.Delete(r.Context(), serialNumber); err != nil {
		h.writeServiceError(w, r, serialNumber, err)
		return
	}

	response.NoContent(w, r)
}

// toPassResponse converts a domain pass to the operator view, attaching a
// distribution link when object storage is configured.
func (h *PassHandler) toPassResponse(ctx context.Context, p *pass.Pass) models.PassResponse {
	resp := models.PassResponse{
		SerialNumber:       p.SerialNumber,
		PassTypeIdentifier: p.PassTypeIdentifier,
		TokenLast4:         p.TokenLast4(),
		Description:        p.Description,
		OrganizationName:   p.OrganizationName,
		Message:            p.Message,
		LastModifiedAt:     p.LastModifiedAt,
		CreatedAt:          p.CreatedAt,
	}

	if h.linker != nil {
		key := fmt.Sprintf("passes/%s.pkpass", p.SerialNumber)
		url, err := h.linker.GetURL(ctx, key)
		if err != nil {
			h.logger.Warn().Err(err).
				Str("serial_number", p.SerialNumber).
				Msg("failed to presign bundle link")
		} else {
			resp.DownloadURL = url
		}
	}

	return resp
}

func (h *PassHandler) writeServiceError(w http.ResponseWriter, r *http.Request, serialNumber string, err error) {
	if errors.Is(err, pass.ErrPassNotFound) {
		response.NotFound(w, r, "unknown serial number")
		return
	}
	h.logger.Error().Err(err).
		Str("serial_number", serialNumber).
		Msg("pass operation failed")
	response.InternalError(w, r, "pass operation failed")
}
