package httpx

import (
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type createOrderReq struct {
	CustomerID      string    `json:"customerId" validate:"required"`
	Items           []lineReq `json:"items" validate:"required,min=1,dive"`
	ShippingAddress string    `json:"shippingAddress" validate:"required,max=500"`
	Notes           string    `json:"notes" validate:"max=1000"`
}

type lineReq struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1,lte=2147483647"`
}

func (r createOrderReq) toCore() orders.CreateOrderRequest {
	items := make([]orders.LineRequest, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, orders.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return orders.CreateOrderRequest{
		CustomerID:      r.CustomerID,
		Items:           items,
		ShippingAddress: r.ShippingAddress,
		Notes:           r.Notes,
	}
}

type createOrderResp struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount string `json:"totalAmount"`
	Idempotent  bool   `json:"idempotent,omitempty"`
}

type updateStatusReq struct {
	NewStatus string `json:"newStatus" validate:"required"`
}

type orderItemResp struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
	Subtotal    string `json:"subtotal"`
}

type orderResp struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customerId"`
	OrderDate       time.Time       `json:"orderDate"`
	TotalAmount     string          `json:"totalAmount"`
	Status          string          `json:"status"`
	ShippingAddress string          `json:"shippingAddress"`
	Notes           string          `json:"notes,omitempty"`
	Items           []orderItemResp `json:"items"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func toOrderResp(o *orders.Order) orderResp {
	items := make([]orderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResp{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price.StringFixed(2),
			Subtotal:    it.Subtotal.StringFixed(2),
		})
	}
	return orderResp{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		OrderDate:       o.OrderDate,
		TotalAmount:     o.TotalAmount.StringFixed(2),
		Status:          o.Status.String(),
		ShippingAddress: o.ShippingAddress,
		Notes:           o.Notes,
		Items:           items,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type orderPageResp struct {
	Orders []orderResp `json:"orders"`
	Page   int         `json:"page"`
	Size   int         `json:"size"`
	Total  int         `json:"total"`
}

func toOrderPageResp(p orders.OrderPage) orderPageResp {
	out := orderPageResp{Orders: make([]orderResp, 0, len(p.Orders)), Page: p.Page, Size: p.Size, Total: p.Total}
	for i := range p.Orders {
		out.Orders = append(out.Orders, toOrderResp(&p.Orders[i]))
	}
	return out
}

type orderStatusResp struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
	Cached    bool      `json:"cached"`
}

type productResp struct {
	ID            string `json:"id"`
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stockQuantity"`
	CategoryID    string `json:"categoryId,omitempty"`
	IsActive      bool   `json:"isActive"`
}

func toProductResp(p orders.Product) productResp {
	return productResp{
		ID:            p.ID,
		SKU:           p.SKU,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price.StringFixed(2),
		StockQuantity: p.StockQuantity,
		CategoryID:    p.CategoryID,
		IsActive:      p.IsActive,
	}
}

type errorResp struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	ProductID string `json:"productId,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
	Shortfall *int   `json:"shortfall,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}
