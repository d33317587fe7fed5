package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/internal/core/service"
)

type CartUseCase interface {
	AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error)
	ViewCart(ctx context.Context, userID string) (*domain.CartView, error)
	Checkout(ctx context.Context, userID string) (*domain.CartView, error)
}

type ProductUseCase interface {
	CreateProduct(ctx context.Context, in service.CreateProductInput) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, page, limit int) ([]domain.Product, domain.PageMeta, error)
	UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error)
}

type HTTPHandler struct {
	carts    CartUseCase
	products ProductUseCase
	logger   *zap.Logger
}

type AddItemHTTPRequest struct {
	UserID    string `json:"userId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CheckoutHTTPRequest struct {
	UserID string `json:"userId"`
}

type CreateProductHTTPRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type UpdateProductHTTPRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
}

type ProductHTTPResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func NewHTTPHandler(carts CartUseCase, products ProductUseCase, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{carts: carts, products: products, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	// Carts
	api.HandleFunc("/carts", h.AddItem).Methods(http.MethodPost)
	api.HandleFunc("/carts/checkout", h.Checkout).Methods(http.MethodPost)
	api.HandleFunc("/carts/{userId}", h.ViewCart).Methods(http.MethodGet)
	api.HandleFunc("/carts/{userId}/items/{productId}", h.RemoveItem).Methods(http.MethodDelete)

	// Products
	api.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products", h.CreateProduct).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}", h.GetProduct).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", h.UpdateProduct).Methods(http.MethodPut)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.carts.AddItem(r.Context(), req.UserID, req.ProductID, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Item added to cart", cart)
}

func (h *HTTPHandler) ViewCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.ViewCart(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Cart retrieved", view)
}

// RemoveItem handles DELETE /api/carts/{userId}/items/{productId}?quantity=n.
// Without quantity the whole line is removed.
func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	quantity := 0
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Validation failed", "quantity must be a non-negative integer")
			return
		}
		quantity = n
	}

	cart, err := h.carts.RemoveItem(r.Context(), vars["userId"], vars["productId"], quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Item removed from cart", cart)
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.carts.Checkout(r.Context(), req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Checkout successful", view)
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(w, r, "page")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	products, meta, err := h.products.ListProducts(r.Context(), page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	data := make([]ProductHTTPResponse, 0, len(products))
	for i := range products {
		data = append(data, toProductResponse(&products[i]))
	}
	writePage(w, "Products retrieved", data, meta)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Product retrieved", toProductResponse(product))
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	product, err := h.products.CreateProduct(r.Context(), service.CreateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Product created", toProductResponse(product))
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	product, err := h.products.UpdateProduct(r.Context(), mux.Vars(r)["id"], domain.ProductPatch{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Product updated", toProductResponse(product))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Page Not Found", r.URL.Path)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "invalid request body")
		return false
	}
	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, message, "")
		return
	}
	writeError(w, status, message, err.Error())
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", name+" must be an integer")
		return 0, false
	}
	return n, true
}

func toProductResponse(p *domain.Product) ProductHTTPResponse {
	return ProductHTTPResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
