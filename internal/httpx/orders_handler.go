package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

const maxBodyBytes = 1 << 20

type OrdersHandler struct {
	Service *orders.Service
	Idem    *redisx.Idempotency // optional
	Cache   *redisx.StatusCache // optional
	Log     *zap.Logger

	validate *validator.Validate
}

func NewOrdersHandler(svc *orders.Service, idem *redisx.Idempotency, cache *redisx.StatusCache, log *zap.Logger) *OrdersHandler {
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New()
	// pakai nama json di pesan error
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &OrdersHandler{Service: svc, Idem: idem, Cache: cache, Log: log, validate: v}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}/status", h.updateStatus)
	r.Get("/customers/{customerId}/orders", h.customerOrders)
	r.Get("/products", h.listProducts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestCtx carries the request id into the service so it lands in published events.
func requestCtx(r *http.Request) context.Context {
	return orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
}

func (h *OrdersHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "VALIDATION", Message: "invalid json"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeJSON(w, http.StatusBadRequest, errorResp{
				Error:   "VALIDATION",
				Message: fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()),
				Field:   fe.Field(),
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "VALIDATION", Message: err.Error()})
		return false
	}
	return true
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if !h.decode(w, r, &req) {
		return
	}
	ctx := requestCtx(r)

	// Idempotency-Key opsional; Redis cuma shortcut, kalau down tetap lanjut
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	claimed := false
	if key != "" && h.Idem != nil {
		orderID, ok, err := h.Idem.Claim(ctx, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeJSON(w, http.StatusConflict, errorResp{Error: "IN_PROGRESS", Message: err.Error()})
			return
		case err != nil:
			h.Log.Warn("idempotency claim failed", zap.String("key", key), zap.Error(err))
		case !ok:
			h.replay(w, r, orderID)
			return
		default:
			claimed = true
		}
	}

	o, err := h.Service.CreateOrder(ctx, req.toCore())
	if err != nil {
		if claimed {
			if rerr := h.Idem.Release(context.WithoutCancel(ctx), key); rerr != nil {
				h.Log.Warn("idempotency release failed", zap.String("key", key), zap.Error(rerr))
			}
		}
		h.writeError(w, r, err)
		return
	}

	if claimed {
		if err := h.Idem.Complete(ctx, key, o.ID); err != nil {
			h.Log.Warn("idempotency complete failed", zap.String("key", key), zap.Error(err))
		}
	}
	h.cacheStatus(ctx, o)

	writeJSON(w, http.StatusCreated, createOrderResp{
		OrderID:     o.ID,
		Status:      o.Status.String(),
		TotalAmount: o.TotalAmount.StringFixed(2),
	})
}

// replay answers a repeated Idempotency-Key with the order the first request created.
func (h *OrdersHandler) replay(w http.ResponseWriter, r *http.Request, orderID string) {
	o, err := h.Service.GetOrder(requestCtx(r), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createOrderResp{
		OrderID:     o.ID,
		Status:      o.Status.String(),
		TotalAmount: o.TotalAmount.StringFixed(2),
		Idempotent:  true,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx := requestCtx(r)

	if r.URL.Query().Get("view") == "status" {
		h.getOrderStatus(w, r, orderID)
		return
	}

	o, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request, orderID string) {
	ctx := requestCtx(r)

	// 1) coba cache
	if h.Cache != nil {
		e, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			h.Log.Warn("status cache read failed", zap.String("order_id", orderID), zap.Error(err))
		}
		if ok {
			writeJSON(w, http.StatusOK, orderStatusResp{OrderID: e.OrderID, Status: e.Status, UpdatedAt: e.UpdatedAt, Cached: true})
			return
		}
	}

	// 2) fallback store
	o, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, orderStatusResp{OrderID: o.ID, Status: o.Status.String(), UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}
	h.respondPage(w, r, f)
}

func (h *OrdersHandler) customerOrders(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}
	f.CustomerID = chi.URLParam(r, "customerId")
	h.respondPage(w, r, f)
}

func (h *OrdersHandler) respondPage(w http.ResponseWriter, r *http.Request, f orders.OrderFilter) {
	page, err := h.Service.ListOrders(requestCtx(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderPageResp(page))
}

func (h *OrdersHandler) filter(w http.ResponseWriter, r *http.Request) (orders.OrderFilter, bool) {
	q := r.URL.Query()
	var f orders.OrderFilter

	if s := q.Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			h.writeError(w, r, err)
			return f, false
		}
		f.Status = st
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &f.Page}, {"size", &f.Size}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, &orders.ValidationError{Field: p.name, Reason: "must be a non-negative integer"})
			return f, false
		}
		*p.dst = n
	}
	return f, true
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if !h.decode(w, r, &req) {
		return
	}
	to, err := orders.ParseStatus(req.NewStatus)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := requestCtx(r)
	o, err := h.Service.UpdateStatus(ctx, chi.URLParam(r, "id"), to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.ListProducts(requestCtx(r), r.URL.Query().Get("categoryId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]productResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProductResp(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Cache == nil {
		return
	}
	e := redisx.StatusEntry{OrderID: o.ID, Status: o.Status.String(), UpdatedAt: o.UpdatedAt}
	if _, err := h.Cache.SetIfNewer(ctx, e); err != nil {
		h.Log.Warn("status cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr *orders.StockError
		transErr *orders.TransitionError
		valErr   *orders.ValidationError
	)
	switch {
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "VALIDATION", Message: valErr.Error(), Field: valErr.Field})
	case errors.Is(err, orders.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "VALIDATION", Message: err.Error()})
	case errors.As(err, &stockErr):
		available, shortfall := stockErr.Available, stockErr.Shortfall()
		writeJSON(w, http.StatusConflict, errorResp{
			Error:     "INSUFFICIENT_STOCK",
			Message:   stockErr.Error(),
			ProductID: stockErr.ProductID,
			Requested: stockErr.Requested,
			Available: &available,
			Shortfall: &shortfall,
		})
	case errors.As(err, &transErr):
		writeJSON(w, http.StatusConflict, errorResp{
			Error:   "INVALID_TRANSITION",
			Message: transErr.Error(),
			From:    transErr.From.String(),
			To:      transErr.To.String(),
		})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, orders.ErrInactive):
		writeJSON(w, http.StatusUnprocessableEntity, errorResp{Error: "INACTIVE", Message: err.Error()})
	case errors.Is(err, orders.ErrUnavailable), errors.Is(err, orders.ErrConflict):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "UNAVAILABLE", Message: "service temporarily unavailable, retry later"})
	default:
		h.Log.Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "INTERNAL", Message: "internal error"})
	}
}
