package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"cashier-board/internal/backend"
	"cashier-board/pkg/response"

	"go.uber.org/zap"
)

const maxOrderBody = 1 << 20

// OrderCreate forwards a counter order to the backend. The new order reaches
// the board through the push channel like any other.
func (h *Handler) OrderCreate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxOrderBody+1))
	if err != nil || len(raw) > maxOrderBody {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body")
		return
	}

	created, err := h.Orders.CreateOrder(r.Context(), raw)
	if err != nil {
		var se *backend.StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			response.Error(w, se.Code, "UPSTREAM_REJECTED", se.Body)
			return
		}
		h.logger().Error("create order failed", zap.Error(err))
		response.Error(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Backend unavailable")
		return
	}
	response.Raw(w, http.StatusCreated, created)
}
