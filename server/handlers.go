package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"melodex/config"
	"melodex/core/catalog"
	"melodex/core/match"
	"melodex/core/pipeline"
	"melodex/core/quota"
	"melodex/logger"
	"melodex/model"
	"melodex/repository"
	"melodex/storage"
)

// APIHandler bundles the dependencies the HTTP handlers need.
type APIHandler struct {
	coordinator  *pipeline.Coordinator
	ledger       *quota.Ledger
	userRepo     repository.UserRepository
	deliveryRepo repository.DeliveryRepository
	store        *storage.Store
	cfg          *config.Config
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(coordinator *pipeline.Coordinator, ledger *quota.Ledger, userRepo repository.UserRepository, deliveryRepo repository.DeliveryRepository, store *storage.Store, cfg *config.Config) *APIHandler {
	return &APIHandler{
		coordinator:  coordinator,
		ledger:       ledger,
		userRepo:     userRepo,
		deliveryRepo: deliveryRepo,
		store:        store,
		cfg:          cfg,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", logger.ErrorField(err))
	}
}

func respondError(w http.ResponseWriter, status int, reason, message string) {
	respondJSON(w, status, map[string]string{
		"error":   reason,
		"message": message,
	})
}

// respondPipelineError translates pipeline failures into an HTTP status
// plus the user-facing category from the error taxonomy.
func respondPipelineError(w http.ResponseWriter, err error) {
	respondError(w, httpStatus(err), pipeline.Reason(err), pipeline.UserMessage(err))
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, quota.ErrTierRequired):
		return http.StatusForbidden
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, match.ErrNoMatch):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// artifactResponse is a delivered artifact plus a time-limited URL to
// fetch it from object storage.
type artifactResponse struct {
	*model.Artifact
	DownloadURL string `json:"downloadUrl,omitempty"`
}

func (h *APIHandler) withDownloadURL(r *http.Request, artifact *model.Artifact) *artifactResponse {
	resp := &artifactResponse{Artifact: artifact}
	url, err := h.store.PresignedURL(r.Context(), artifact.Location, 1*time.Hour)
	if err != nil {
		logger.Error("Failed to presign artifact URL",
			logger.String("location", artifact.Location),
			logger.ErrorField(err))
		return resp
	}
	resp.DownloadURL = url
	return resp
}

// RequestTrackHandler handles POST /api/tracks/request.
func (h *APIHandler) RequestTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req struct {
		CatalogID string            `json:"catalogId"`
		Quality   model.QualityTier `json:"quality"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.CatalogID == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "catalogId is required")
		return
	}
	if req.Quality == "" {
		req.Quality = model.QualityStandard
	}
	if !req.Quality.Valid() {
		respondError(w, http.StatusBadRequest, "bad_request", "quality must be standard or high")
		return
	}

	result, err := h.coordinator.RequestTrack(r.Context(), userID, req.CatalogID, req.Quality)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"requestId": result.RequestID,
		"track":     result.Track,
		"artifact":  h.withDownloadURL(r, result.Artifact),
		"tier":      result.Tier,
		"fromCache": result.FromCache,
	})
}

// RequestCollectionHandler handles POST /api/collections/request. Member
// failures are reported per track; the batch itself succeeds.
func (h *APIHandler) RequestCollectionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req struct {
		CatalogID string            `json:"catalogId"`
		Quality   model.QualityTier `json:"quality"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.CatalogID == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "catalogId is required")
		return
	}
	if req.Quality == "" {
		req.Quality = model.QualityHigh
	}
	if !req.Quality.Valid() {
		respondError(w, http.StatusBadRequest, "bad_request", "quality must be standard or high")
		return
	}

	results, err := h.coordinator.RequestCollection(r.Context(), userID, req.CatalogID, req.Quality)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	type memberResponse struct {
		pipeline.TrackResult
		DownloadURL string `json:"downloadUrl,omitempty"`
	}
	members := make([]memberResponse, len(results))
	delivered := 0
	for i, res := range results {
		members[i] = memberResponse{TrackResult: res}
		if res.Artifact != nil {
			members[i].DownloadURL = h.withDownloadURL(r, res.Artifact).DownloadURL
			delivered++
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"requested": len(results),
		"delivered": delivered,
		"tracks":    members,
	})
}

// StatusHandler handles GET /api/status: tier, premium expiry and the
// day's quota position.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	tier, used, remaining, err := h.ledger.Status(r.Context(), userID)
	if err != nil {
		logger.Error("Failed to read quota status",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not read status")
		return
	}

	resp := map[string]interface{}{
		"tier":      tier,
		"usedToday": used,
		"remaining": remaining, // -1 means unlimited
	}
	if user, err := h.userRepo.GetUserByID(userID); err == nil && user != nil && user.PremiumUntil != nil {
		resp["premiumUntil"] = user.PremiumUntil
	}
	respondJSON(w, http.StatusOK, resp)
}

// DeliveriesHandler handles GET /api/deliveries: the caller's most
// recent entries in the delivery audit log.
func (h *APIHandler) DeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			respondError(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	deliveries, err := h.deliveryRepo.RecentByUser(userID, limit)
	if err != nil {
		logger.Error("Failed to list deliveries",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not list deliveries")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}
