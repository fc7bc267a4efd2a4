package server

import (
	"encoding/json"
	"net/http"
	"time"

	"melodex/logger"
)

// AdminMiddleware restricts a handler to the configured admin IDs. It
// must run inside AuthMiddleware.
func (h *APIHandler) AdminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := GetUserIDFromContext(r.Context())
		if err != nil || !h.cfg.IsAdmin(userID) {
			respondError(w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// GrantPremiumHandler handles POST /api/admin/premium: extends the
// target user's premium expiry by the given number of days, counted
// from now or from the current expiry, whichever is later.
func (h *APIHandler) GrantPremiumHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"userId"`
		Days   int   `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.UserID <= 0 || req.Days <= 0 {
		respondError(w, http.StatusBadRequest, "bad_request", "userId and days must be positive")
		return
	}

	user, err := h.userRepo.GetUserByID(req.UserID)
	if err != nil {
		logger.Error("Failed to look up user", logger.Int64("userId", req.UserID), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not look up user")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}

	from := time.Now()
	if user.PremiumUntil != nil && user.PremiumUntil.After(from) {
		from = *user.PremiumUntil
	}
	until := from.AddDate(0, 0, req.Days)

	if err := h.userRepo.SetPremiumUntil(req.UserID, &until); err != nil {
		logger.Error("Failed to grant premium", logger.Int64("userId", req.UserID), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not grant premium")
		return
	}

	admin, _ := GetUserIDFromContext(r.Context())
	logger.Info("Premium granted",
		logger.Int64("userId", req.UserID),
		logger.Int("days", req.Days),
		logger.Int64("grantedBy", admin))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId":       req.UserID,
		"premiumUntil": until,
	})
}

// RevokePremiumHandler handles DELETE /api/admin/premium: clears the
// target user's premium expiry, reverting them to the free tier.
func (h *APIHandler) RevokePremiumHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, "bad_request", "userId must be positive")
		return
	}

	if err := h.userRepo.SetPremiumUntil(req.UserID, nil); err != nil {
		logger.Error("Failed to revoke premium", logger.Int64("userId", req.UserID), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not revoke premium")
		return
	}

	admin, _ := GetUserIDFromContext(r.Context())
	logger.Info("Premium revoked",
		logger.Int64("userId", req.UserID),
		logger.Int64("revokedBy", admin))
	respondJSON(w, http.StatusOK, map[string]interface{}{"userId": req.UserID})
}
