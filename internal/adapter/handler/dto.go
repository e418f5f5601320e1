package handler

import (
	"time"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/service"
)

const orderTimeLayout = "2006-01-02 15:04:05"

type ItemHTTPRequest struct {
	MenuID   int64 `json:"menu_id"`
	Quantity int   `json:"quantity"`
}

// SubmitOrderHTTPRequest accepts "depositor" from the table page and
// "depositor_name" from the cashier screen.
type SubmitOrderHTTPRequest struct {
	TableID       int64             `json:"table_id"`
	Depositor     string            `json:"depositor"`
	DepositorName string            `json:"depositor_name"`
	Items         []ItemHTTPRequest `json:"items"`
}

type OrderIDHTTPRequest struct {
	OrderID int64 `json:"order_id"`
}

type UpdateOrderHTTPRequest struct {
	OrderID int64             `json:"order_id"`
	Items   []ItemHTTPRequest `json:"items"`
}

type OrderStatusHTTPRequest struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

type ServeItemHTTPRequest struct {
	OrderDetailID int64 `json:"order_detail_id"`
}

// StockHTTPRequest sets stock_quantity; null stops tracking the item.
type StockHTTPRequest struct {
	StockQuantity *int `json:"stock_quantity"`
}

type AvailabilityHTTPRequest struct {
	IsAvailable *bool `json:"is_available"`
}

type OrderItemResponse struct {
	OrderDetailID int64        `json:"order_detail_id"`
	MenuID        int64        `json:"menu_id"`
	MenuName      string       `json:"menu_name"`
	Quantity      int          `json:"quantity"`
	UnitPrice     domain.Money `json:"unit_price"`
	Subtotal      domain.Money `json:"subtotal"`
	IsServed      bool         `json:"is_served"`
}

// OrderResponse is a self-contained order: header plus every line item.
type OrderResponse struct {
	OrderID       int64               `json:"order_id"`
	TableID       int64               `json:"table_id"`
	DepositorName string              `json:"depositor_name"`
	TotalAmount   domain.Money        `json:"total_amount"`
	OrderStatus   domain.OrderStatus  `json:"order_status"`
	OrderTime     string              `json:"order_time"`
	CreatedAt     time.Time           `json:"created_at"`
	Details       []OrderItemResponse `json:"details"`
}

type OrderSummaryResponse struct {
	OrderID       int64              `json:"order_id"`
	TableID       int64              `json:"table_id"`
	DepositorName string             `json:"depositor_name"`
	TotalAmount   domain.Money       `json:"total_amount"`
	OrderStatus   domain.OrderStatus `json:"order_status"`
	OrderTime     string             `json:"order_time"`
	MenuSummary   string             `json:"menu_summary"`
}

type OrderPageResponse struct {
	Orders []OrderSummaryResponse `json:"orders"`
	Page   int                    `json:"page"`
	Size   int                    `json:"size"`
	Total  int                    `json:"total"`
}

type QueueOrderResponse struct {
	OrderID   int64               `json:"order_id"`
	TableID   int64               `json:"table_id"`
	OrderTime string              `json:"order_time"`
	Items     []OrderItemResponse `json:"items"`
}

type PaymentInfoResponse struct {
	OrderID       int64               `json:"order_id"`
	DepositorName string              `json:"depositor_name"`
	TotalAmount   domain.Money        `json:"total_amount"`
	OrderStatus   domain.OrderStatus  `json:"order_status"`
	Items         []OrderItemResponse `json:"items"`
}

type TableStatusResponse struct {
	TableID           int64                               `json:"table_id"`
	IsOccupied        bool                                `json:"is_occupied"`
	SessionStartedAt  time.Time                           `json:"session_started_at"`
	LatestOrderStatus *domain.OrderStatus                 `json:"latest_order_status"`
	LatestOrderTime   *string                             `json:"latest_order_time"`
	Totals            map[domain.OrderStatus]domain.Money `json:"totals"`
}

type TableHistoryResponse struct {
	TableID int64           `json:"table_id"`
	Orders  []OrderResponse `json:"orders"`
}

type MenuResponse struct {
	MenuID        int64        `json:"menu_id"`
	CategoryID    int64        `json:"category_id"`
	MenuName      string       `json:"menu_name"`
	Description   string       `json:"description"`
	Price         domain.Money `json:"price"`
	ImageURL      string       `json:"image_url"`
	IsAvailable   bool         `json:"is_available"`
	IsBestSeller  bool         `json:"is_best_seller"`
	StockQuantity *int         `json:"stock_quantity"`
}

type CategoryResponse struct {
	CategoryID   int64          `json:"category_id"`
	CategoryName string         `json:"category_name"`
	Menus        []MenuResponse `json:"menus"`
}

type CustomerMenuResponse struct {
	TableID      int64              `json:"table_id"`
	Categories   []CategoryResponse `json:"categories"`
	ActiveOrders []OrderResponse    `json:"active_orders"`
}

type MessageResponse struct {
	Message     string             `json:"message"`
	OrderID     int64              `json:"order_id,omitempty"`
	OrderStatus domain.OrderStatus `json:"order_status,omitempty"`
	TotalAmount *domain.Money      `json:"total_amount,omitempty"`
}

// ServeItemResponse sets completed_now only on the call that completed the order.
type ServeItemResponse struct {
	Message      string             `json:"message"`
	OrderID      int64              `json:"order_id"`
	OrderStatus  domain.OrderStatus `json:"order_status"`
	FullyServed  bool               `json:"fully_served"`
	CompletedNow bool               `json:"completed_now"`
}

type CompleteAllResponse struct {
	Success bool   `json:"success"`
	OrderID int64  `json:"order_id"`
	Message string `json:"message"`
}

type ResetTableResponse struct {
	Message          string    `json:"message"`
	TableID          int64     `json:"table_id"`
	SessionStartedAt time.Time `json:"session_started_at"`
}

func toItemRequests(items []ItemHTTPRequest) []domain.ItemRequest {
	out := make([]domain.ItemRequest, 0, len(items))
	for _, it := range items {
		out = append(out, domain.ItemRequest{MenuID: it.MenuID, Quantity: it.Quantity})
	}
	return out
}

func newOrderItemResponses(items []domain.OrderItem) []OrderItemResponse {
	out := make([]OrderItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItemResponse{
			OrderDetailID: it.ID,
			MenuID:        it.MenuID,
			MenuName:      it.MenuName,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			Subtotal:      it.Subtotal,
			IsServed:      it.Served,
		})
	}
	return out
}

func newOrderResponse(o domain.Order) OrderResponse {
	return OrderResponse{
		OrderID:       o.ID,
		TableID:       o.TableID,
		DepositorName: o.DepositorName,
		TotalAmount:   o.TotalAmount,
		OrderStatus:   o.Status,
		OrderTime:     o.CreatedAt.Format(orderTimeLayout),
		CreatedAt:     o.CreatedAt,
		Details:       newOrderItemResponses(o.Items),
	}
}

func newOrderResponses(orders []domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderResponse(o))
	}
	return out
}

func newQueueResponses(orders []domain.Order) []QueueOrderResponse {
	out := make([]QueueOrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, QueueOrderResponse{
			OrderID:   o.ID,
			TableID:   o.TableID,
			OrderTime: o.CreatedAt.Format(orderTimeLayout),
			Items:     newOrderItemResponses(o.Items),
		})
	}
	return out
}

func newOrderPageResponse(page *service.OrderPage) OrderPageResponse {
	resp := OrderPageResponse{
		Orders: make([]OrderSummaryResponse, 0, len(page.Orders)),
		Page:   page.Page,
		Size:   page.Size,
		Total:  page.Total,
	}
	for _, o := range page.Orders {
		resp.Orders = append(resp.Orders, OrderSummaryResponse{
			OrderID:       o.ID,
			TableID:       o.TableID,
			DepositorName: o.DepositorName,
			TotalAmount:   o.TotalAmount,
			OrderStatus:   o.Status,
			OrderTime:     o.CreatedAt.Format(orderTimeLayout),
			MenuSummary:   o.MenuSummary(),
		})
	}
	return resp
}

func newTableStatusResponses(statuses []service.TableStatus) []TableStatusResponse {
	out := make([]TableStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		resp := TableStatusResponse{
			TableID:          st.Table.ID,
			IsOccupied:       st.Table.Occupied,
			SessionStartedAt: st.Table.SessionStartedAt,
			Totals:           st.Totals,
		}
		if st.Latest != nil {
			status := st.Latest.Status
			at := st.Latest.CreatedAt.Format(orderTimeLayout)
			resp.LatestOrderStatus = &status
			resp.LatestOrderTime = &at
		}
		out = append(out, resp)
	}
	return out
}

func newMenuResponse(m domain.Menu) MenuResponse {
	return MenuResponse{
		MenuID:        m.ID,
		CategoryID:    m.CategoryID,
		MenuName:      m.Name,
		Description:   m.Description,
		Price:         m.Price,
		ImageURL:      m.ImageURL,
		IsAvailable:   m.Available,
		IsBestSeller:  m.BestSeller,
		StockQuantity: m.Stock,
	}
}

func newCustomerMenuResponse(view *service.CustomerMenu) CustomerMenuResponse {
	resp := CustomerMenuResponse{
		TableID:      view.Table.ID,
		Categories:   make([]CategoryResponse, 0, len(view.Categories)),
		ActiveOrders: newOrderResponses(view.ActiveOrders),
	}
	for _, c := range view.Categories {
		cat := CategoryResponse{
			CategoryID:   c.Category.ID,
			CategoryName: c.Category.Name,
			Menus:        make([]MenuResponse, 0, len(c.Menus)),
		}
		for _, m := range c.Menus {
			cat.Menus = append(cat.Menus, newMenuResponse(m))
		}
		resp.Categories = append(resp.Categories, cat)
	}
	return resp
}
