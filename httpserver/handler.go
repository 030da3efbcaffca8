package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/trustnet/centerconf/hamonitor"
	"github.com/trustnet/centerconf/interfaces"
	"github.com/trustnet/centerconf/parts"
	"github.com/trustnet/centerconf/sources"
	"github.com/trustnet/centerconf/trustanchor"
)

// UploadSessionHeader carries the opaque staging token of a two-phase
// trusted-anchor upload.
const UploadSessionHeader = "X-Upload-Session"

// maxUploadSize bounds configuration part and anchor uploads (10MB).
const maxUploadSize = 10 * 1024 * 1024

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	StatusCode int
	Err        error
}

// Error returns the message of the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Handler processes the administrative and download requests of the central
// configuration service.
type Handler struct {
	sources *sources.Manager
	parts   *parts.Store
	anchors *trustanchor.Registry
	monitor *hamonitor.Monitor
	log     *slog.Logger
}

// NewHandler creates the request handler. monitor may be nil when the
// deployment has no HA cluster.
func NewHandler(srcMgr *sources.Manager, partStore *parts.Store, anchorRegistry *trustanchor.Registry, monitor *hamonitor.Monitor, log *slog.Logger) *Handler {
	return &Handler{
		sources: srcMgr,
		parts:   partStore,
		anchors: anchorRegistry,
		monitor: monitor,
		log:     log,
	}
}

// HandleSourceView serves the operator view of one configuration source.
//
// URL format: GET /api/sources/{kind}
func (h *Handler) HandleSourceView(w http.ResponseWriter, r *http.Request) {
	kind, err := h.sourceKind(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	view, err := h.sources.DescribeSource(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleRegenerateAnchor regenerates the anchor of one source.
//
// URL format: POST /api/sources/{kind}/anchor
func (h *Handler) HandleRegenerateAnchor(w http.ResponseWriter, r *http.Request) {
	kind, err := h.sourceKind(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.sources.RegenerateAnchor(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleDownloadAnchor serves exactly the persisted anchor bytes.
//
// URL format: GET /api/sources/{kind}/anchor
func (h *Handler) HandleDownloadAnchor(w http.ResponseWriter, r *http.Request) {
	kind, err := h.sourceKind(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, _, name, err := h.sources.GetAnchor(kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeAttachment(w, name, data)
}

// HandleGenerateKey generates a signing key on the requested token.
//
// URL format: POST /api/sources/{kind}/keys
// Request body: {"token_id": "..."}
func (h *Handler) HandleGenerateKey(w http.ResponseWriter, r *http.Request) {
	kind, err := h.sourceKind(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		TokenID string `json:"token_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TokenID == "" {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("missing token_id")})
		return
	}

	key, err := h.sources.GenerateKey(r.Context(), kind, req.TokenID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, key)
}

// HandleActivateKey activates a signing key.
//
// URL format: PUT /api/keys/{key_id}/activate
func (h *Handler) HandleActivateKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")

	result, err := h.sources.ActivateKey(r.Context(), keyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleDeleteKey deletes a signing key from the registry; gateway deletion
// and anchor regeneration outcomes are reported in the result.
//
// URL format: DELETE /api/keys/{key_id}
func (h *Handler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")

	result, err := h.sources.DeleteKey(r.Context(), keyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleListTokens lists gateway tokens available for key generation.
//
// URL format: GET /api/tokens
func (h *Handler) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.sources.ListAvailableTokens(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tokens)
}

// HandleLoginToken logs a gateway token in with the operator-supplied PIN.
//
// URL format: PUT /api/tokens/{token_id}/login
// Request body: {"pin": "..."}
func (h *Handler) HandleLoginToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PIN == "" {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("missing pin")})
		return
	}

	if err := h.sources.InitializeToken(r.Context(), chi.URLParam(r, "token_id"), []byte(req.PIN)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutToken logs a gateway token out.
//
// URL format: PUT /api/tokens/{token_id}/logout
func (h *Handler) HandleLogoutToken(w http.ResponseWriter, r *http.Request) {
	if err := h.sources.LogoutToken(r.Context(), chi.URLParam(r, "token_id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetCentralAddresses updates the distribution addresses and reports
// the per-source regeneration outcomes.
//
// URL format: PUT /api/system/central-addresses
// Request body: {"addresses": ["cs1.example.org", ...]}
func (h *Handler) HandleSetCentralAddresses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addresses []string `json:"addresses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Addresses) == 0 {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("missing addresses")})
		return
	}

	result, err := h.sources.SetCentralAddresses(r.Context(), req.Addresses)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleUploadPart submits a configuration part. The content identifier is
// explicit in the URL; trust-relevant uploads are never content-sniffed.
//
// URL format: POST /api/sources/{kind}/parts/{content_identifier}?file_name=...
// Request body: raw part bytes
func (h *Handler) HandleUploadPart(w http.ResponseWriter, r *http.Request) {
	kind, err := h.sourceKind(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	contentIdentifier := chi.URLParam(r, "content_identifier")
	fileName := r.URL.Query().Get("file_name")
	if fileName == "" {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("missing file_name parameter")})
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err)})
		return
	}

	result, err := h.parts.Submit(r.Context(), kind, contentIdentifier, fileName, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleListParts lists part metadata, optionally filtered by source kind.
//
// URL format: GET /api/parts?source={kind}
func (h *Handler) HandleListParts(w http.ResponseWriter, r *http.Request) {
	var kind interfaces.SourceKind
	if filter := r.URL.Query().Get("source"); filter != "" {
		parsed, err := interfaces.ParseSourceKind(filter)
		if err != nil {
			h.writeError(w, &RequestError{http.StatusBadRequest, err})
			return
		}
		kind = parsed
	}

	infos, err := h.parts.ListParts(kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, infos)
}

// HandleDownloadPart serves exactly the last accepted bytes of a part.
//
// URL format: GET /api/parts/{content_identifier}/download
func (h *Handler) HandleDownloadPart(w http.ResponseWriter, r *http.Request) {
	part, name, err := h.parts.GetPart(chi.URLParam(r, "content_identifier"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeAttachment(w, name, part.Data)
}

// HandlePreviewTrustedAnchor stages a trusted anchor candidate.
//
// URL format: POST /api/trusted-anchors/preview
// Request body: raw anchor bytes
func (h *Handler) HandlePreviewTrustedAnchor(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err)})
		return
	}

	preview, err := h.anchors.PreviewUpload(r.Header.Get(UploadSessionHeader), data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, preview)
}

// HandleConfirmTrustedAnchor verifies and persists the staged anchor.
//
// URL format: POST /api/trusted-anchors/confirm
func (h *Handler) HandleConfirmTrustedAnchor(w http.ResponseWriter, r *http.Request) {
	anchor, err := h.anchors.ConfirmUpload(r.Context(), r.Header.Get(UploadSessionHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}

	anchor.File = nil
	h.writeJSON(w, http.StatusOK, anchor)
}

// HandleCancelTrustedAnchor discards the staged anchor.
//
// URL format: POST /api/trusted-anchors/cancel
func (h *Handler) HandleCancelTrustedAnchor(w http.ResponseWriter, r *http.Request) {
	if err := h.anchors.CancelUpload(r.Header.Get(UploadSessionHeader)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListTrustedAnchors lists the imported trusted anchors.
//
// URL format: GET /api/trusted-anchors
func (h *Handler) HandleListTrustedAnchors(w http.ResponseWriter, r *http.Request) {
	anchors, err := h.anchors.ListAnchors()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, anchors)
}

// HandleDownloadTrustedAnchor serves a trusted anchor's bytes.
//
// URL format: GET /api/trusted-anchors/{instance}/download
func (h *Handler) HandleDownloadTrustedAnchor(w http.ResponseWriter, r *http.Request) {
	anchor, name, err := h.anchors.GetAnchor(chi.URLParam(r, "instance"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeAttachment(w, name, anchor.File)
}

// HandleDeleteTrustedAnchor removes a trusted anchor.
//
// URL format: DELETE /api/trusted-anchors/{instance}
func (h *Handler) HandleDeleteTrustedAnchor(w http.ResponseWriter, r *http.Request) {
	if err := h.anchors.DeleteAnchor(chi.URLParam(r, "instance")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClusterStatus runs the HA consistency check.
//
// URL format: GET /api/cluster/status
func (h *Handler) HandleClusterStatus(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		h.writeError(w, &RequestError{http.StatusNotImplemented, fmt.Errorf("no HA cluster configured")})
		return
	}

	status, err := h.monitor.CheckCluster(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) sourceKind(r *http.Request) (interfaces.SourceKind, error) {
	kind, err := interfaces.ParseSourceKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", &RequestError{http.StatusBadRequest, err}
	}
	return kind, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeAttachment(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		status = reqErr.StatusCode
	case errors.Is(err, interfaces.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrValidationFailed),
		errors.Is(err, interfaces.ErrSameInstance),
		errors.Is(err, interfaces.ErrNoActiveKey):
		status = http.StatusConflict
	case errors.Is(err, interfaces.ErrTokenUnavailable):
		status = http.StatusConflict
	case errors.Is(err, interfaces.ErrGatewayUnavailable):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		h.log.Error("Request failed", "status", status, "err", err)
	} else {
		h.log.Debug("Request rejected", "status", status, "err", err)
	}

	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
