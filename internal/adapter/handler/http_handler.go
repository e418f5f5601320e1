package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/qr"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/service"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	orders *service.OrderService
	tables *service.TableService
	menus  *service.MenuService
	feed   *service.FeedService
	qr     *qr.Generator
	health Pinger
	log    *logger.Logger
}

func NewHTTPHandler(
	orders *service.OrderService,
	tables *service.TableService,
	menus *service.MenuService,
	feed *service.FeedService,
	qrGen *qr.Generator,
	health Pinger,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		orders: orders,
		tables: tables,
		menus:  menus,
		feed:   feed,
		qr:     qrGen,
		health: health,
		log:    log,
	}
}

// Routes wires every endpoint behind request id, logging and panic recovery.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.withRequestID)
	r.Use(h.withLogging)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	// customer
	r.Get("/menu/{tableID}", h.CustomerMenu)
	r.Get("/table/{tableID}/qr", h.TableQR)
	r.Post("/order/submit", h.SubmitOrder)
	r.Get("/order/payment_info/{orderID}", h.PaymentInfo)

	r.Route("/cashier", func(r chi.Router) {
		r.Get("/tables", h.TableStatuses)
		r.Get("/table/{tableID}", h.TableHistory)
		r.Post("/table/{tableID}/reset", h.ResetTable)
		r.Post("/confirm_order", h.ConfirmOrder)
		r.Post("/manual_order", h.ManualOrder)
		r.Put("/order/update", h.UpdateOrder)
		r.Delete("/order/delete", h.CancelOrder)
		r.Post("/order/status", h.OverrideStatus)
		r.Get("/orders", h.ListOrders)
		r.Patch("/menu/{menuID}/stock", h.UpdateStock)
		r.Patch("/menu/{menuID}/availability", h.SetAvailability)
	})

	r.Get("/kitchen", h.KitchenOrders)
	r.Get("/kitchen/sse", h.FeedSSE)
	r.Get("/serving", h.ServingOrders)
	r.Post("/serving/complete", h.CompleteItem)
	r.Post("/serving/completeall", h.CompleteAll)
	r.Get("/serving/sse", h.FeedSSE)
	r.Get("/serving/ws", h.FeedWebSocket)

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.health.Ping(ctx); err != nil {
		h.log.Error("health_check", "store unreachable", logger.RequestID(r.Context()), err, nil)
		response["status"] = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *HTTPHandler) CustomerMenu(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "tableID", "table_id")
	if !ok {
		return
	}

	view, err := h.tables.CustomerMenu(r.Context(), tableID)
	if err != nil {
		h.writeServiceError(w, r, "customer_menu", err)
		return
	}
	writeJSON(w, http.StatusOK, newCustomerMenuResponse(view))
}

func (h *HTTPHandler) TableQR(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "tableID", "table_id")
	if !ok {
		return
	}
	if _, err := h.tables.Table(r.Context(), tableID); err != nil {
		h.writeServiceError(w, r, "table_qr", err)
		return
	}

	png, err := h.qr.PNG(tableID)
	if err != nil {
		h.writeServiceError(w, r, "table_qr", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=table_%d.png", tableID))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *HTTPHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	depositor := req.Depositor
	if depositor == "" {
		depositor = req.DepositorName
	}

	order, err := h.orders.Submit(r.Context(), service.PlaceOrderInput{
		TableID:        req.TableID,
		DepositorName:  depositor,
		Items:          toItemRequests(req.Items),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeServiceError(w, r, "submit_order", err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{
		Message:     "order received",
		OrderID:     order.ID,
		OrderStatus: order.Status,
	})
}

func (h *HTTPHandler) PaymentInfo(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID", "order_id")
	if !ok {
		return
	}

	order, err := h.orders.PaymentInfo(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, r, "payment_info", err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentInfoResponse{
		OrderID:       order.ID,
		DepositorName: order.DepositorName,
		TotalAmount:   order.TotalAmount,
		OrderStatus:   order.Status,
		Items:         newOrderItemResponses(order.Items),
	})
}

func (h *HTTPHandler) TableStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.tables.TableStatuses(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "table_statuses", err)
		return
	}
	writeJSON(w, http.StatusOK, newTableStatusResponses(statuses))
}

func (h *HTTPHandler) TableHistory(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "tableID", "table_id")
	if !ok {
		return
	}

	orders, err := h.tables.TableHistory(r.Context(), tableID)
	if err != nil {
		h.writeServiceError(w, r, "table_history", err)
		return
	}
	writeJSON(w, http.StatusOK, TableHistoryResponse{TableID: tableID, Orders: newOrderResponses(orders)})
}

func (h *HTTPHandler) ResetTable(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "tableID", "table_id")
	if !ok {
		return
	}

	table, err := h.tables.Reset(r.Context(), tableID)
	if err != nil {
		h.writeServiceError(w, r, "reset_table", err)
		return
	}
	writeJSON(w, http.StatusOK, ResetTableResponse{
		Message:          "table reset",
		TableID:          table.ID,
		SessionStartedAt: table.SessionStartedAt,
	})
}

func (h *HTTPHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderIDHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.ConfirmPayment(r.Context(), req.OrderID)
	if err != nil {
		h.writeServiceError(w, r, "confirm_order", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "payment confirmed", OrderID: order.ID, OrderStatus: order.Status})
}

func (h *HTTPHandler) ManualOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	depositor := req.DepositorName
	if depositor == "" {
		depositor = req.Depositor
	}

	order, err := h.orders.CreateManual(r.Context(), service.PlaceOrderInput{
		TableID:       req.TableID,
		DepositorName: depositor,
		Items:         toItemRequests(req.Items),
	})
	if err != nil {
		h.writeServiceError(w, r, "manual_order", err)
		return
	}

	total := order.TotalAmount
	writeJSON(w, http.StatusCreated, MessageResponse{
		Message:     "manual order created",
		OrderID:     order.ID,
		OrderStatus: order.Status,
		TotalAmount: &total,
	})
}

func (h *HTTPHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.EditItems(r.Context(), req.OrderID, toItemRequests(req.Items))
	if err != nil {
		h.writeServiceError(w, r, "update_order", err)
		return
	}

	total := order.TotalAmount
	writeJSON(w, http.StatusOK, MessageResponse{
		Message:     "order updated",
		OrderID:     order.ID,
		OrderStatus: order.Status,
		TotalAmount: &total,
	})
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderIDHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.Cancel(r.Context(), req.OrderID)
	if err != nil {
		h.writeServiceError(w, r, "cancel_order", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "order cancelled", OrderID: order.ID, OrderStatus: order.Status})
}

func (h *HTTPHandler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	var req OrderStatusHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.OverrideStatus(r.Context(), req.OrderID, req.Status)
	if err != nil {
		h.writeServiceError(w, r, "override_status", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "order status changed", OrderID: order.ID, OrderStatus: order.Status})
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, ok := h.queryInt(w, r, "page")
	if !ok {
		return
	}
	size, ok := h.queryInt(w, r, "size")
	if !ok {
		return
	}

	result, err := h.orders.ListOrders(r.Context(), page, size)
	if err != nil {
		h.writeServiceError(w, r, "list_orders", err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderPageResponse(result))
}

func (h *HTTPHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	menuID, ok := h.pathID(w, r, "menuID", "menu_id")
	if !ok {
		return
	}
	var req StockHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	menu, err := h.menus.UpdateStock(r.Context(), menuID, req.StockQuantity)
	if err != nil {
		h.writeServiceError(w, r, "update_stock", err)
		return
	}
	writeJSON(w, http.StatusOK, newMenuResponse(*menu))
}

func (h *HTTPHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	menuID, ok := h.pathID(w, r, "menuID", "menu_id")
	if !ok {
		return
	}
	var req AvailabilityHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IsAvailable == nil {
		h.writeServiceError(w, r, "set_availability", domain.ValidationError{Field: "is_available", Message: "is required"})
		return
	}

	menu, err := h.menus.SetAvailability(r.Context(), menuID, *req.IsAvailable)
	if err != nil {
		h.writeServiceError(w, r, "set_availability", err)
		return
	}
	writeJSON(w, http.StatusOK, newMenuResponse(*menu))
}

func (h *HTTPHandler) KitchenOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.KitchenQueue(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "kitchen_orders", err)
		return
	}
	writeJSON(w, http.StatusOK, newQueueResponses(orders))
}

func (h *HTTPHandler) ServingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ServingQueue(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "serving_orders", err)
		return
	}
	writeJSON(w, http.StatusOK, newQueueResponses(orders))
}

func (h *HTTPHandler) CompleteItem(w http.ResponseWriter, r *http.Request) {
	var req ServeItemHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.orders.MarkItemServed(r.Context(), req.OrderDetailID)
	if err != nil {
		h.writeServiceError(w, r, "complete_item", err)
		return
	}
	writeJSON(w, http.StatusOK, ServeItemResponse{
		Message:      "item served",
		OrderID:      result.OrderID,
		OrderStatus:  result.OrderStatus,
		FullyServed:  result.OrderStatus == domain.OrderStatusCompleted,
		CompletedNow: result.CompletedNow,
	})
}

func (h *HTTPHandler) CompleteAll(w http.ResponseWriter, r *http.Request) {
	var req OrderIDHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.CompleteOrder(r.Context(), req.OrderID)
	if err != nil {
		h.writeServiceError(w, r, "complete_all", err)
		return
	}
	writeJSON(w, http.StatusOK, CompleteAllResponse{Success: true, OrderID: order.ID, Message: "order fully served"})
}

// decode reads a JSON body into dst and writes a 400 on failure.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		requestID := logger.RequestID(r.Context())
		h.log.Debug("validation_failed", "failed to parse request body", requestID, map[string]any{"error": err.Error()})
		writeErrorResponse(w, http.StatusBadRequest, "invalid JSON body", requestID)
		return false
	}
	return true
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request, param, field string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		h.writeServiceError(w, r, "parse_path", domain.ValidationError{Field: field, Message: "must be a positive id"})
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		h.writeServiceError(w, r, "parse_query", domain.ValidationError{Field: name, Message: "must be an integer"})
		return 0, false
	}
	return v, true
}

// writeServiceError maps domain errors onto status codes. Unclassified errors are 500s.
func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, action string, err error) {
	requestID := logger.RequestID(r.Context())

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateRequest):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrUnavailable):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.log.Error(action, "request failed", requestID, err, nil)
		writeErrorResponse(w, status, "internal server error", requestID)
		return
	}

	h.log.Debug(action, "request rejected", requestID, map[string]any{"status": status, "error": err.Error()})
	writeErrorResponse(w, status, err.Error(), requestID)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message, requestID string) {
	writeJSON(w, statusCode, map[string]any{
		"error":      message,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
