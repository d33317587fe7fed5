package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rl1809/cart-service/internal/core/domain"
)

type successResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data"`
	Meta    *domain.PageMeta `json:"meta,omitempty"`
}

type errorResponse struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Details    string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, successResponse{Status: "success", Message: message, Data: data})
}

func writePage(w http.ResponseWriter, message string, data interface{}, meta domain.PageMeta) {
	writeJSON(w, http.StatusOK, successResponse{Status: "success", Message: message, Data: data, Meta: &meta})
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{Message: message, StatusCode: status, Details: details})
}

// classify maps a service error to its HTTP status and client message.
func classify(err error) (int, string) {
	var productErr *domain.ProductError
	isProduct := errors.As(err, &productErr)

	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "Validation failed"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest, "Insufficient stock"
	case errors.Is(err, domain.ErrNotFound) && isProduct:
		return http.StatusNotFound, "Product not found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Cart not found"
	case errors.Is(err, domain.ErrLockUnavailable):
		return http.StatusServiceUnavailable, "Resource is busy, please retry"
	case errors.Is(err, domain.ErrCartClosed):
		return http.StatusConflict, "Cart is closed"
	default:
		return http.StatusInternalServerError, "An unexpected error occurred"
	}
}
