package memstore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// DemoProducts is the catalog the API starts with when STORE_DRIVER=memory.
func DemoProducts() []orders.Product {
	now := time.Now().UTC()
	p := func(id, sku, name, price, category string, stock int, active bool) orders.Product {
		return orders.Product{
			ID:            id,
			SKU:           sku,
			Name:          name,
			Price:         decimal.RequireFromString(price),
			StockQuantity: stock,
			CategoryID:    category,
			IsActive:      active,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return []orders.Product{
		p("prod-mug", "KIT-001", "Ceramic Mug", "45000.00", "kitchen", 120, true),
		p("prod-kettle", "KIT-002", "Electric Kettle", "289000.00", "kitchen", 25, true),
		p("prod-lamp", "HOM-001", "Desk Lamp", "175500.00", "home", 40, true),
		p("prod-rug", "HOM-002", "Woven Rug", "520000.00", "home", 3, true),
		p("prod-radio", "HOM-003", "Transistor Radio", "99000.00", "home", 10, false),
	}
}
