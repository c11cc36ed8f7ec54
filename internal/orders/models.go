package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	CategoryID    string          `json:"categoryId"`
	IsActive      bool            `json:"isActive"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ProductSnapshot is the price/stock view of a product captured at lookup time.
type ProductSnapshot struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	IsActive      bool
}

func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		IsActive:      p.IsActive,
	}
}

type Order struct {
	ID              string
	CustomerID      string
	OrderDate       time.Time
	TotalAmount     decimal.Decimal
	Status          Status // lihat status.go
	ShippingAddress string
	Notes           string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem carries the product name and price as they were when the order was placed.
type OrderItem struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int
	Price       decimal.Decimal
	Subtotal    decimal.Decimal
}

// StockLines folds the order items into one line per product, in first-seen order.
func (o *Order) StockLines() []StockLine {
	return foldLines(len(o.Items), func(i int) (string, int) {
		return o.Items[i].ProductID, o.Items[i].Quantity
	})
}

type LineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	CustomerID      string
	Items           []LineRequest
	ShippingAddress string
	Notes           string
}

type StockLine struct {
	ProductID string
	Quantity  int
}

type OrderFilter struct {
	CustomerID string
	Status     Status // StatusUnknown = any
	Page       int
	Size       int
}

type OrderPage struct {
	Orders []Order
	Page   int
	Size   int
	Total  int
}

func foldLines(n int, at func(int) (string, int)) []StockLine {
	idx := make(map[string]int, n)
	out := make([]StockLine, 0, n)
	for i := 0; i < n; i++ {
		id, qty := at(i)
		if j, ok := idx[id]; ok {
			out[j].Quantity += qty
			continue
		}
		idx[id] = len(out)
		out = append(out, StockLine{ProductID: id, Quantity: qty})
	}
	return out
}
