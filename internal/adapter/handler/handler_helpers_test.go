package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/messaging"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/qr"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/storage"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/service"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
)

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	db      *storage.MemoryAdapter
	handler *HTTPHandler
	feed    *service.FeedService
	routes  http.Handler

	bulgogi domain.Menu // tracked, stock 5
	cola    domain.Menu // untracked
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := storage.NewMemoryAdapter(3)
	cache := storage.NewLocalCache()
	log := logger.Discard()

	stock := 5
	mains := db.AddCategory("Mains", 1)
	drinks := db.AddCategory("Drinks", 2)
	bulgogi := db.AddMenu(domain.Menu{CategoryID: mains.ID, Name: "Bulgogi", Price: 1500000, Available: true, Stock: &stock})
	cola := db.AddMenu(domain.Menu{CategoryID: drinks.ID, Name: "Cola", Price: 200000, Available: true})

	feed := service.NewFeedService(db, cache, 10*time.Millisecond, log)
	h := NewHTTPHandler(
		service.NewOrderService(db, cache, messaging.NopPublisher{}, log),
		service.NewTableService(db, log),
		service.NewMenuService(db, log),
		feed,
		qr.NewGenerator("http://localhost:5000"),
		db,
		log,
	)

	return &testServer{db: db, handler: h, feed: feed, routes: h.Routes(), bulgogi: bulgogi, cola: cola}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, req)
	return rec
}

// submit places an order for table 1 and returns its id.
func (s *testServer) submit(t *testing.T, items ...ItemHTTPRequest) int64 {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/order/submit", SubmitOrderHTTPRequest{TableID: 1, Depositor: "Kim", Items: items})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp MessageResponse
	decodeBody(t, rec, &resp)
	return resp.OrderID
}

func (s *testServer) confirm(t *testing.T, orderID int64) {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/cashier/confirm_order", OrderIDHTTPRequest{OrderID: orderID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	decodeBody(t, rec, &body)
	return body
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
