package handlers

import (
	"net/http"

	"cashier-board/internal/pending"
	"cashier-board/pkg/response"

	"go.uber.org/zap"
)

func (h *Handler) PendingList(w http.ResponseWriter, r *http.Request) {
	items, err := h.Pending.Load(r.Context())
	if err != nil {
		h.logger().Error("load pending mutations failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load pending changes")
		return
	}
	if items == nil {
		items = []pending.Mutation{}
	}
	response.Success(w, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) PendingFlush(w http.ResponseWriter, r *http.Request) {
	attempted, err := h.Board.Flush(r.Context())
	if err != nil {
		h.writeBoardError(w, err, "flush pending changes")
		return
	}

	remaining, err := h.Pending.Load(r.Context())
	if err != nil {
		h.logger().Warn("load pending mutations after flush failed", zap.Error(err))
	}
	response.Success(w, map[string]any{"attempted": attempted, "remaining": len(remaining)})
}
