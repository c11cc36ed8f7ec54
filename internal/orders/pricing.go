package orders

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxShippingAddressLen = 500
	maxNotesLen           = 1000

	// MaxLineQuantity bounds a single line and the per-product sum of an order.
	MaxLineQuantity = math.MaxInt32
)

// ValidateRequest checks the shape of a create-order request before any lookup.
func ValidateRequest(req CreateOrderRequest) error {
	if strings.TrimSpace(req.CustomerID) == "" {
		return &ValidationError{Field: "customerId", Reason: "is required"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "order must have at least one item"}
	}
	perProduct := make(map[string]int, len(req.Items))
	for _, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return &ValidationError{Field: "items.productId", Reason: "is required"}
		}
		if it.Quantity < 1 {
			return &ValidationError{Field: "items.quantity", Reason: "must be at least 1"}
		}
		if it.Quantity > MaxLineQuantity {
			return &ValidationError{Field: "items.quantity", Reason: "is too large"}
		}
		if it.Quantity > MaxLineQuantity-perProduct[it.ProductID] {
			return &ValidationError{Field: "items.quantity", Reason: "total for product " + it.ProductID + " is too large"}
		}
		perProduct[it.ProductID] += it.Quantity
	}
	addr := strings.TrimSpace(req.ShippingAddress)
	if addr == "" {
		return &ValidationError{Field: "shippingAddress", Reason: "is required"}
	}
	if utf8.RuneCountInString(addr) > maxShippingAddressLen {
		return &ValidationError{Field: "shippingAddress", Reason: "must not exceed 500 characters"}
	}
	if utf8.RuneCountInString(req.Notes) > maxNotesLen {
		return &ValidationError{Field: "notes", Reason: "must not exceed 1000 characters"}
	}
	return nil
}

// RequestLines folds the request items into one stock line per product.
func RequestLines(req CreateOrderRequest) []StockLine {
	return foldLines(len(req.Items), func(i int) (string, int) {
		return req.Items[i].ProductID, req.Items[i].Quantity
	})
}

// Price builds an unsaved PENDING order from the request and the catalog snapshot.
// Prices come only from the snapshot. Stock is pre-checked here; the authoritative
// check happens when stock is reserved.
func Price(req CreateOrderRequest, snaps map[string]ProductSnapshot, now time.Time) (*Order, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	for _, l := range RequestLines(req) {
		snap, ok := snaps[l.ProductID]
		if !ok {
			return nil, &ValidationError{Field: "items.productId", Reason: "missing from catalog snapshot: " + l.ProductID}
		}
		if l.Quantity > snap.StockQuantity {
			return nil, &StockError{ProductID: l.ProductID, Requested: l.Quantity, Available: snap.StockQuantity}
		}
	}

	o := &Order{
		CustomerID:      strings.TrimSpace(req.CustomerID),
		OrderDate:       now,
		Status:          StatusPending,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		Notes:           req.Notes,
		Items:           make([]OrderItem, 0, len(req.Items)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	total := decimal.Zero
	for _, it := range req.Items {
		snap := snaps[it.ProductID]
		sub := snap.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		o.Items = append(o.Items, OrderItem{
			ID:          uuid.NewString(),
			ProductID:   it.ProductID,
			ProductName: snap.Name,
			Quantity:    it.Quantity,
			Price:       snap.Price,
			Subtotal:    sub,
		})
		total = total.Add(sub)
	}
	o.TotalAmount = total
	return o, nil
}
