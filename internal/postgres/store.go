package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Store implements orders.Store on PostgreSQL. Stock changes are single-row conditional
// updates, so the row lock serializes reservations per product.
type Store struct{ DB *pgxpool.Pool }

var _ orders.Store = (*Store)(nil)

const productColumns = `id, sku, name, description, price::text, stock_quantity,
	COALESCE(category_id, ''), is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &price, &p.StockQuantity,
		&p.CategoryID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return orders.Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return orders.Product{}, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	p.Price = d
	return p, nil
}

func (s *Store) LoadProduct(ctx context.Context, id string) (orders.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Product{}, classify(err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, categoryID string) ([]orders.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products`
	var args []any
	if categoryID != "" {
		q += ` WHERE category_id = $1`
		args = append(args, categoryID)
	}
	rows, err := s.DB.Query(ctx, q+` ORDER BY sku`, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, classify(rows.Err())
}

func (s *Store) ReserveStock(ctx context.Context, productID string, qty int) (bool, int, error) {
	var left int
	err := s.DB.QueryRow(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING stock_quantity`, productID, qty).Scan(&left)
	if err == nil {
		return true, left, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, 0, classify(err)
	}

	// kurang stok atau produk tidak ada
	var stock int
	err = s.DB.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, orders.ErrNotFound
	}
	if err != nil {
		return false, 0, classify(err)
	}
	return false, stock, nil
}

func (s *Store) ReleaseStock(ctx context.Context, productID string, qty int) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1`, productID, qty)
	if err != nil {
		return classify(err)
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrNotFound
	}
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, o *orders.Order) (string, error) {
	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", classify(err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, order_date, total_amount, status, shipping_address, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		id, o.CustomerID, o.OrderDate, o.TotalAmount.String(), o.Status.String(),
		o.ShippingAddress, o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return "", classify(err)
	}

	for i, it := range o.Items {
		itemID := it.ID
		if itemID == "" {
			itemID = uuid.NewString()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, position, product_id, product_name, quantity, price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric)`,
			itemID, id, i, it.ProductID, it.ProductName, it.Quantity, it.Price.String(), it.Subtotal.String(),
		)
		if err != nil {
			return "", classify(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", classify(err)
	}
	return id, nil
}

const orderColumns = `id, customer_id, order_date, total_amount::text, status, shipping_address, notes, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o      orders.Order
		total  string
		status string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &o.OrderDate, &total, &status,
		&o.ShippingAddress, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	st, err := orders.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", o.ID, err)
	}
	o.TotalAmount = d
	o.Status = st
	return &o, nil
}

func (s *Store) LoadOrder(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	items, err := s.loadItems(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return o, nil
}

func (s *Store) loadItems(ctx context.Context, orderIDs []string) (map[string][]orders.OrderItem, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT order_id, id, product_id, product_name, quantity, price::text, subtotal::text
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[string][]orders.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID         string
			it              orders.OrderItem
			price, subtotal string
		)
		if err := rows.Scan(&orderID, &it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &price, &subtotal); err != nil {
			return nil, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("item %s price: %w", it.ID, err)
		}
		if it.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
			return nil, fmt.Errorf("item %s subtotal: %w", it.ID, err)
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, classify(rows.Err())
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to orders.Status, release []orders.StockLine) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from.String(), to.String())
	if err != nil {
		return classify(err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return classify(err)
		}
		if !exists {
			return orders.ErrNotFound
		}
		return orders.ErrConflict
	}

	// urutkan biar lock produk selalu diambil dengan urutan yang sama
	lines := append([]orders.StockLine(nil), release...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	for _, l := range lines {
		ct, err := tx.Exec(ctx, `
			UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now()
			WHERE id = $1`, l.ProductID, l.Quantity)
		if err != nil {
			return classify(err)
		}
		if ct.RowsAffected() != 1 {
			return fmt.Errorf("release product %s: %w", l.ProductID, orders.ErrNotFound)
		}
	}

	return classify(tx.Commit(ctx))
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, int, error) {
	var (
		where []string
		args  []any
	)
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.Status != orders.StatusUnknown {
		args = append(args, f.Status.String())
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+cond, args...).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	args = append(args, f.Size, f.Page*f.Size)
	q := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY order_date DESC, id LIMIT $%d OFFSET $%d`,
		orderColumns, cond, len(args)-1, len(args))
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	var (
		out []orders.Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, *o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	if len(ids) == 0 {
		return out, total, nil
	}

	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, total, nil
}

// classify maps driver errors onto the store contract: lock and serialization
// failures are retryable conflicts, timeouts mean the store is unavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "23505":
			return fmt.Errorf("%w: %s", orders.ErrConflict, pgErr.Message)
		}
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", orders.ErrUnavailable, err)
	}
	return err
}
