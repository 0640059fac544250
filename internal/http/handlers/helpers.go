package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"cashier-board/internal/board"
	"cashier-board/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var errMissingParam = errors.New("missing param")

func readPathInt64(r *http.Request, key string) (int64, error) {
	value := chi.URLParam(r, key)
	if value == "" {
		return 0, errMissingParam
	}
	out, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if out <= 0 {
		return 0, errors.New("id must be positive")
	}
	return out, nil
}

func readOrderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := readPathInt64(r, "orderId")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Order ID is required")
		return 0, false
	}
	return id, true
}

// writeBoardError maps synchronizer errors onto API responses.
func (h *Handler) writeBoardError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, board.ErrOrderNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Order not found")
	case errors.Is(err, board.ErrOrderNotFinished):
		response.Error(w, http.StatusConflict, "ORDER_NOT_FINISHED", "Only finished orders can be deleted")
	case errors.Is(err, board.ErrFlushInProgress):
		response.Error(w, http.StatusConflict, "FLUSH_IN_PROGRESS", "A flush is already running")
	case errors.Is(err, board.ErrNotRunning):
		response.Error(w, http.StatusServiceUnavailable, "BOARD_UNAVAILABLE", "Board is restarting")
	default:
		h.logger().Error(action+" failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action)
	}
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
