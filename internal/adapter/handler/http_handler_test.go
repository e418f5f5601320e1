package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/messaging"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/qr"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/storage"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/service"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
)

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", errorBody(t, rec)["status"])
}

func TestHealthCheck_StoreDown(t *testing.T) {
	db := storage.NewMemoryAdapter(1)
	log := logger.Discard()
	h := NewHTTPHandler(
		service.NewOrderService(db, storage.NewLocalCache(), messaging.NopPublisher{}, log),
		service.NewTableService(db, log),
		service.NewMenuService(db, log),
		nil,
		qr.NewGenerator("http://localhost"),
		downPinger{},
		log,
	)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", errorBody(t, rec)["status"])
}

func TestRequestID_EchoedInErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/cashier/confirm_order", OrderIDHTTPRequest{OrderID: 404}, "X-Request-ID", "req-abc")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
	body := errorBody(t, rec)
	assert.Equal(t, "req-abc", body["request_id"])
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRequestID_Generated(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSubmitOrder_Created(t *testing.T) {
	s := newTestServer(t)

	orderID := s.submit(t, ItemHTTPRequest{MenuID: s.bulgogi.ID, Quantity: 2}, ItemHTTPRequest{MenuID: s.cola.ID, Quantity: 1})
	require.NotZero(t, orderID)

	rec := s.do(t, http.MethodGet, "/order/payment_info/"+itoa(orderID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info PaymentInfoResponse
	decodeBody(t, rec, &info)
	assert.Equal(t, "Kim", info.DepositorName)
	assert.Equal(t, domain.Money(3200000), info.TotalAmount)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, info.OrderStatus)
	require.Len(t, info.Items, 2)
	assert.Equal(t, "Bulgogi", info.Items[0].MenuName)
}

func TestSubmitOrder_DepositorNameField(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/order/submit", SubmitOrderHTTPRequest{
		TableID:       2,
		DepositorName: "Lee",
		Items:         []ItemHTTPRequest{{MenuID: s.cola.ID, Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestSubmitOrder_Rejected(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", "not an object", http.StatusBadRequest},
		{"no items", SubmitOrderHTTPRequest{TableID: 1, Depositor: "Kim"}, http.StatusBadRequest},
		{"zero quantity", SubmitOrderHTTPRequest{TableID: 1, Depositor: "Kim", Items: []ItemHTTPRequest{{MenuID: s.cola.ID, Quantity: 0}}}, http.StatusBadRequest},
		{"missing depositor", SubmitOrderHTTPRequest{TableID: 1, Items: []ItemHTTPRequest{{MenuID: s.cola.ID, Quantity: 1}}}, http.StatusBadRequest},
		{"over stock", SubmitOrderHTTPRequest{TableID: 1, Depositor: "Kim", Items: []ItemHTTPRequest{{MenuID: s.bulgogi.ID, Quantity: 6}}}, http.StatusBadRequest},
		{"unknown table", SubmitOrderHTTPRequest{TableID: 99, Depositor: "Kim", Items: []ItemHTTPRequest{{MenuID: s.cola.ID, Quantity: 1}}}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/order/submit", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestSubmitOrder_IdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	body := SubmitOrderHTTPRequest{TableID: 1, Depositor: "Kim", Items: []ItemHTTPRequest{{MenuID: s.cola.ID, Quantity: 1}}}

	first := s.do(t, http.MethodPost, "/order/submit", body, "Idempotency-Key", "tap-1")
	second := s.do(t, http.MethodPost, "/order/submit", body, "Idempotency-Key", "tap-1")

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestConfirmOrder(t *testing.T) {
	s := newTestServer(t)
	orderID := s.submit(t, ItemHTTPRequest{MenuID: s.cola.ID, Quantity: 1})

	rec := s.do(t, http.MethodPost, "/cashier/confirm_order", OrderIDHTTPRequest{OrderID: orderID})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MessageResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, domain.OrderStatusPaymentConfirmed, resp.OrderStatus)

	again := s.do(t, http.MethodPost, "/cashier/confirm_order", OrderIDHTTPRequest{OrderID: orderID})
	assert.Equal(t, http.StatusBadRequest, again.Code)
}

func TestServeItems_CompletesOrder(t *testing.T) {
	s := newTestServer(t)
	orderID := s.submit(t, ItemHTTPRequest{MenuID: s.bulgogi.ID, Quantity: 1}, ItemHTTPRequest{MenuID: s.cola.ID, Quantity: 2})
	s.confirm(t, orderID)

	rec := s.do(t, http.MethodGet, "/kitchen", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queue []QueueOrderResponse
	decodeBody(t, rec, &queue)
	require.Len(t, queue, 1)
	require.Len(t, queue[0].Items, 2)

	first := s.do(t, http.MethodPost, "/serving/complete", ServeItemHTTPRequest{OrderDetailID: queue[0].Items[0].OrderDetailID})
	require.Equal(t, http.StatusOK, first.Code)
	var served ServeItemResponse
	decodeBody(t, first, &served)
	assert.False(t, served.FullyServed)
	assert.False(t, served.CompletedNow)
	assert.Equal(t, domain.OrderStatusPaymentConfirmed, served.OrderStatus)

	second := s.do(t, http.MethodPost, "/serving/complete", ServeItemHTTPRequest{OrderDetailID: queue[0].Items[1].OrderDetailID})
	require.Equal(t, http.StatusOK, second.Code)
	decodeBody(t, second, &served)
	assert.True(t, served.FullyServed)
	assert.True(t, served.CompletedNow)
	assert.Equal(t, domain.OrderStatusCompleted, served.OrderStatus)

	repeat := s.do(t, http.MethodPost, "/serving/complete", ServeItemHTTPRequest{OrderDetailID: queue[0].Items[1].OrderDetailID})
	require.Equal(t, http.StatusOK, repeat.Code)
	decodeBody(t, repeat, &served)
	assert.True(t, served.FullyServed)
	assert.False(t, served.CompletedNow)

	rec = s.do(t, http.MethodGet, "/serving", nil)
	decodeBody(t, rec, &queue)
	assert.Empty(t, queue)
}

func TestServeItem_Errors(t *testing.T) {
	s := newTestServer(t)
	orderID := s.submit(t, ItemHTTPRequest{MenuID: s.cola.ID, Quantity: 1})

	missing := s.do(t, http.MethodPost, "/serving/complete", ServeItemHTTPRequest{OrderDetailID: 999})
	assert.Equal(t, http.StatusNotFound, missing.Code)

	var info PaymentInfoResponse
	decodeBody(t, s.do(t, http.MethodGet, "/order/payment_info/"+itoa(orderID), nil), &info)

	unpaid := s.do(t, http.MethodPost, "/serving/complete", ServeItemHTTPRequest{OrderDetailID: info.Items[0].OrderDetailID})
	assert.Equal(t, http.StatusBadRequest, unpaid.Code)
}

func TestCompleteAll(t *testing.T) {
	s := newTestServer(t)
	orderID := s.submit(t, ItemHTTPRequest{MenuID: s.cola.ID, Quantity: 3})
	s.confirm(t, orderID)

	rec := s.do(t, http.MethodPost, "/serving/completeall", OrderIDHTTPRequest{OrderID: orderID})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CompleteAllResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, orderID, resp.OrderID)

	again := s.do(t, http.MethodPost, "/serving/completeall", OrderIDHTTPRequest{OrderID: orderID})
	assert.Equal(t, http.StatusOK, again.Code)
}

func TestCancelOrder_RestoresStock(t *testing.T) {
	s := newTestServer(t)
	orderID := s.submit(t, ItemHTTPRequest{MenuID: s.bulgogi.ID, Quantity: 3})

	rec := s.do(t, http.MethodDelete, "/cashier/order/delete", OrderIDHTTPRequest{OrderID: orderID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MessageResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, domain.OrderStatusCancelled, resp.OrderStatus)

	menu, err := s.db.GetMenu(t.Context(), s.bulgogi.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, *menu.Stock)

	again := s.do(t, http.MethodDelete, "/cashier/order/delete", OrderIDHTTPRequest{OrderID: orderID})
	assert.Equal(t, http.StatusBadRequest, again.Code)
}

func TestUpdateOrder(t *testing.T) {
	s := newTestServer(t)
	orderID := s.submit(t, ItemHTTPRequest{MenuID: s.bulgogi.ID, Quantity: 1})

	rec := s.do(t, http.MethodPut, "/cashier/order/update", UpdateOrderHTTPRequest{
		OrderID: orderID,
		Items:   []ItemHTTPRequest{{MenuID: s.cola.ID, Quantity: 4}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MessageResponse
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.TotalAmount)
	assert.Equal(t, domain.Money(800000), *resp.TotalAmount)

	short := s.do(t, http.MethodPut, "/cashier/order/update", UpdateOrderHTTPRequest{
		OrderID: orderID,
		Items:   []ItemHTTPRequest{{MenuID: s.bulgogi.ID, Quantity: 9}},
	})
	assert.Equal(t, http.StatusBadRequest, short.Code)
}

func TestManualOrder(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/cashier/manual_order", SubmitOrderHTTPRequest{
		TableID:       3,
		DepositorName: "Walk-in",
		Items:         []ItemHTTPRequest{{MenuID: s.bulgogi.ID, Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp MessageResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, domain.OrderStatusPaymentConfirmed, resp.OrderStatus)
	require.NotNil(t, resp.TotalAmount)
	assert.Equal(t, domain.Money(1500000), *resp.TotalAmount)
}

func TestOverrideStatus(t *testing.T) {
	s := newTestServer(t)
	orderID := s.submit(t, ItemHTTPRequest{MenuID: s.cola.ID, Quantity: 1})

	rec := s.do(t, http.MethodPost, "/cashier/order/status", OrderStatusHTTPRequest{OrderID: orderID, Status: "COMPLETED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bad := s.do(t, http.MethodPost, "/cashier/order/status", OrderStatusHTTPRequest{OrderID: orderID, Status: "EATEN"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestListOrders(t *testing.T) {
	s := newTestServer(t)
	for range 3 {
		s.submit(t, ItemHTTPRequest{MenuID: s.cola.ID, Quantity: 1})
	}

	rec := s.do(t, http.MethodGet, "/cashier/orders?page=1&size=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page OrderPageResponse
	decodeBody(t, rec, &page)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Orders, 2)
	assert.Greater(t, page.Orders[0].OrderID, page.Orders[1].OrderID)
	assert.Equal(t, "Cola", page.Orders[0].MenuSummary)

	bad := s.do(t, http.MethodGet, "/cashier/orders?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestTableEndpoints(t *testing.T) {
	s := newTestServer(t)
	orderID := s.submit(t, ItemHTTPRequest{MenuID: s.bulgogi.ID, Quantity: 1})

	rec := s.do(t, http.MethodGet, "/cashier/tables", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []TableStatusResponse
	decodeBody(t, rec, &statuses)
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].IsOccupied)
	require.NotNil(t, statuses[0].LatestOrderStatus)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, *statuses[0].LatestOrderStatus)
	assert.Equal(t, domain.Money(1500000), statuses[0].Totals[domain.OrderStatusAwaitingPayment])
	assert.False(t, statuses[1].IsOccupied)

	rec = s.do(t, http.MethodGet, "/cashier/table/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history TableHistoryResponse
	decodeBody(t, rec, &history)
	require.Len(t, history.Orders, 1)
	assert.Equal(t, orderID, history.Orders[0].OrderID)

	rec = s.do(t, http.MethodPost, "/cashier/table/1/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/menu/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var menu CustomerMenuResponse
	decodeBody(t, rec, &menu)
	assert.Empty(t, menu.ActiveOrders)
	require.Len(t, menu.Categories, 2)
	assert.Equal(t, "Bulgogi", menu.Categories[0].Menus[0].MenuName)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/menu/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/menu/9", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/cashier/table/9/reset", nil).Code)
}

func TestTableQR(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/table/2/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/table/42/qr", nil).Code)
}

func TestMenuEndpoints(t *testing.T) {
	s := newTestServer(t)
	path := "/cashier/menu/" + itoa(s.bulgogi.ID)

	twenty := 20
	rec := s.do(t, http.MethodPatch, path+"/stock", StockHTTPRequest{StockQuantity: &twenty})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var menu MenuResponse
	decodeBody(t, rec, &menu)
	require.NotNil(t, menu.StockQuantity)
	assert.Equal(t, 20, *menu.StockQuantity)

	negative := -1
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, path+"/stock", StockHTTPRequest{StockQuantity: &negative}).Code)

	off := false
	rec = s.do(t, http.MethodPatch, path+"/availability", AvailabilityHTTPRequest{IsAvailable: &off})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &menu)
	assert.False(t, menu.IsAvailable)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, path+"/availability", AvailabilityHTTPRequest{}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/cashier/menu/77/availability", AvailabilityHTTPRequest{IsAvailable: &off}).Code)
}
