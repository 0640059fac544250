package handlers

import (
	"net/http"

	"cashier-board/internal/middleware"
	"cashier-board/internal/ticket"
	"cashier-board/pkg/response"

	"go.uber.org/zap"
)

func (h *Handler) BoardSnapshot(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.Board.Snapshot())
}

func (h *Handler) BoardOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := readOrderID(w, r)
	if !ok {
		return
	}
	o, found := h.Board.Order(id)
	if !found {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Order not found")
		return
	}
	response.Success(w, o)
}

func (h *Handler) BoardOrderFinish(w http.ResponseWriter, r *http.Request) {
	id, ok := readOrderID(w, r)
	if !ok {
		return
	}
	if err := h.Board.Finish(r.Context(), id); err != nil {
		h.writeBoardError(w, err, "finish order")
		return
	}
	h.audit(r, "order finished", id)

	o, found := h.Board.Order(id)
	if !found {
		// Finishing can push an order out of the window; it is still done.
		response.Success(w, map[string]any{"id": id, "state": "finish"})
		return
	}
	response.Success(w, o)
}

func (h *Handler) BoardOrderDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := readOrderID(w, r)
	if !ok {
		return
	}
	if err := h.Board.Delete(r.Context(), id); err != nil {
		h.writeBoardError(w, err, "delete order")
		return
	}
	h.audit(r, "order deleted", id)
	response.Success(w, map[string]any{"id": id, "deleted": true})
}

func (h *Handler) BoardOrderTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := readOrderID(w, r)
	if !ok {
		return
	}
	o, found := h.Board.Order(id)
	if !found {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Order not found")
		return
	}

	buf, err := ticket.Render(o, ticket.Options{Title: h.Config.TicketTitle, Location: ticket.Location(h.Config.TicketTimezone)})
	if err != nil {
		h.logger().Error("render ticket failed", zap.Int64("orderId", id), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate ticket")
		return
	}
	response.PDF(w, ticket.Filename(o), buf.Bytes())
}

func (h *Handler) audit(r *http.Request, msg string, id int64) {
	fields := []zap.Field{zap.Int64("orderId", id)}
	if authCtx, ok := middleware.GetAuthContext(r.Context()); ok {
		fields = append(fields, zap.String("operatorId", authCtx.OperatorID), zap.String("role", string(authCtx.Role)))
	}
	h.logger().Info(msg, fields...)
}
