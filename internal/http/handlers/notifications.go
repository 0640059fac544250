package handlers

import (
	"encoding/json"
	"net/http"

	"cashier-board/internal/notify"
	"cashier-board/pkg/response"

	"go.uber.org/zap"
)

type notificationRequest struct {
	Permission string `json:"permission"`
}

func (h *Handler) NotificationsGet(w http.ResponseWriter, r *http.Request) {
	state, err := h.Notifications.State(r.Context())
	if err != nil {
		h.logger().Error("read notification permission failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read notification permission")
		return
	}
	response.Success(w, map[string]any{"permission": state})
}

func (h *Handler) NotificationsPut(w http.ResponseWriter, r *http.Request) {
	var body notificationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body")
		return
	}
	p, err := notify.ParsePermission(body.Permission)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "permission must be granted or denied")
		return
	}
	if err := h.Notifications.Set(r.Context(), p); err != nil {
		h.logger().Error("save notification permission failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save notification permission")
		return
	}
	response.Success(w, map[string]any{"permission": p})
}
