// Package service contains HTTP handler implementations for the marketplace API endpoints.
// It parses requests, calls the coordinator in the app package, maps the
// error kinds of the stores onto HTTP statuses, and writes JSON responses.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/app"
	"marketplace/internal/credentials"
	"marketplace/internal/models"
	"marketplace/internal/pkg/auth"
	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/upload"

	"github.com/go-chi/chi/v5"
)

const (
	requestTimeout = 10 * time.Second
	maxUploadSize  = 10 << 20
)

// IdempotencyKeyHeader carries the optional client key of a purchase.
const IdempotencyKeyHeader = "Idempotency-Key"

// handlers aggregates dependencies needed by HTTP handlers.
type handlers struct {
	app     *app.App
	uploads *upload.Store
	log     *logger.Logger
}

// newHandlers initializes a new handlers instance.
func newHandlers(app *app.App, uploads *upload.Store, l *logger.Logger) *handlers {
	return &handlers{app: app, uploads: uploads, log: l}
}

func (handlers *handlers) readAuthRequest(res http.ResponseWriter, req *http.Request) (models.AuthRequest, bool) {
	var authRequest models.AuthRequest

	requestBody, err := io.ReadAll(req.Body)
	if err != nil {
		writeErrorResponse(res, err.Error(), http.StatusBadRequest)
		return authRequest, false
	}

	if err = json.Unmarshal(requestBody, &authRequest); err != nil {
		writeErrorResponse(res, err.Error(), http.StatusBadRequest)
		return authRequest, false
	}
	return authRequest, true
}

// registerHandler creates a new user with the starting balance.
func (handlers *handlers) registerHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	authRequest, ok := handlers.readAuthRequest(res, req)
	if !ok {
		return
	}

	if err := handlers.app.Register(ctx, authRequest); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			writeErrorResponse(res, "user already exists", http.StatusConflict)
			return
		}
		handlers.writeAppError(res, err)
		return
	}

	res.WriteHeader(http.StatusCreated)
}

// authHandler handles user authentication requests and returns a JSON response with a token.
func (handlers *handlers) authHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	authRequest, ok := handlers.readAuthRequest(res, req)
	if !ok {
		return
	}

	token, err := handlers.app.ProcessAuth(ctx, authRequest)
	if err != nil {
		if errors.Is(err, credentials.ErrMismatchedPassword) {
			writeErrorResponse(res, "incorrect password", http.StatusUnauthorized)
			return
		}
		if errors.Is(err, models.ErrNotFound) {
			writeErrorResponse(res, "user not found", http.StatusUnauthorized)
			return
		}
		handlers.writeAppError(res, err)
		return
	}

	writeJSON(res, http.StatusOK, models.AuthResponse{Token: token})
}

// balanceHandler returns the principal's coin balance.
func (handlers *handlers) balanceHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	principal, ok := auth.Principal(req.Context())
	if !ok {
		writeErrorResponse(res, "unauthorized", http.StatusUnauthorized)
		return
	}

	coins, err := handlers.app.GetBalance(ctx, principal)
	if err != nil {
		handlers.writeAppError(res, err)
		return
	}

	writeJSON(res, http.StatusOK, models.BalanceResponse{Coins: coins})
}

// listItemsHandler returns every listed item in creation order.
func (handlers *handlers) listItemsHandler(res http.ResponseWriter, req *http.Request) {
	writeJSON(res, http.StatusOK, handlers.app.ListItems(req.Context()))
}

// getItemHandler returns a single item.
func (handlers *handlers) getItemHandler(res http.ResponseWriter, req *http.Request) {
	id, ok := itemIDParam(res, req)
	if !ok {
		return
	}

	item, err := handlers.app.GetItem(req.Context(), id)
	if err != nil {
		handlers.writeAppError(res, err)
		return
	}

	writeJSON(res, http.StatusOK, item)
}

// createItemHandler stores the uploaded image and lists the item for the principal.
func (handlers *handlers) createItemHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	principal, ok := auth.Principal(req.Context())
	if !ok {
		writeErrorResponse(res, "unauthorized", http.StatusUnauthorized)
		return
	}

	req.Body = http.MaxBytesReader(res, req.Body, maxUploadSize)
	if err := req.ParseMultipartForm(maxUploadSize); err != nil {
		writeErrorResponse(res, "invalid multipart form", http.StatusBadRequest)
		return
	}

	name := req.FormValue("itemName")
	description := req.FormValue("description")
	priceValue := req.FormValue("price")
	file, header, err := req.FormFile("file")
	if err != nil || strings.TrimSpace(name) == "" || strings.TrimSpace(description) == "" || priceValue == "" {
		writeErrorResponse(res, "all fields are required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	price, err := strconv.ParseInt(priceValue, 10, 64)
	if err != nil || price <= 0 {
		writeErrorResponse(res, "price must be a positive number", http.StatusBadRequest)
		return
	}

	contentRef, err := handlers.uploads.Save(file, header.Filename)
	if err != nil {
		handlers.log.Sugar().Errorf("Failed to store upload: %s", err)
		writeErrorResponse(res, "failed to store upload", http.StatusInternalServerError)
		return
	}

	item, err := handlers.app.CreateItem(ctx, principal, name, description, price, contentRef)
	if err != nil {
		if discardErr := handlers.uploads.Discard(contentRef); discardErr != nil {
			handlers.log.Sugar().Errorf("Failed to discard upload %s: %s", contentRef, discardErr)
		}
		handlers.writeAppError(res, err)
		return
	}

	writeJSON(res, http.StatusCreated, models.CreateItemResponse{Message: "item created", Item: item})
}

// deleteItemHandler delists an item owned by the principal.
func (handlers *handlers) deleteItemHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	principal, ok := auth.Principal(req.Context())
	if !ok {
		writeErrorResponse(res, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, ok := itemIDParam(res, req)
	if !ok {
		return
	}

	if err := handlers.app.DeleteItem(ctx, principal, id); err != nil {
		handlers.writeAppError(res, err)
		return
	}

	res.WriteHeader(http.StatusNoContent)
}

// buyItemHandler purchases an item for the principal and returns the receipt.
func (handlers *handlers) buyItemHandler(res http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()

	principal, ok := auth.Principal(req.Context())
	if !ok {
		writeErrorResponse(res, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, ok := itemIDParam(res, req)
	if !ok {
		return
	}

	receipt, err := handlers.app.BuyItem(ctx, principal, id, req.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		handlers.writeAppError(res, err)
		return
	}

	writeJSON(res, http.StatusOK, receipt)
}

func itemIDParam(res http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErrorResponse(res, "invalid item id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeAppError maps an error kind onto its HTTP status.
func (handlers *handlers) writeAppError(res http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrMissingUsernameOrPassword):
		writeErrorResponse(res, "missing username or password", http.StatusBadRequest)
	case errors.Is(err, app.ErrUnauthenticated):
		writeErrorResponse(res, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, app.ErrRateLimited):
		writeErrorResponse(res, "too many registrations, try again later", http.StatusTooManyRequests)
	case errors.Is(err, models.ErrNotFound):
		writeErrorResponse(res, "not found", http.StatusNotFound)
	case errors.Is(err, models.ErrAlreadyExists):
		writeErrorResponse(res, "already exists", http.StatusConflict)
	case errors.Is(err, models.ErrForbidden):
		writeErrorResponse(res, "you are not the owner of this item", http.StatusForbidden)
	case errors.Is(err, models.ErrInsufficientFunds):
		writeErrorResponse(res, "insufficient coins", http.StatusBadRequest)
	case errors.Is(err, models.ErrInvalidOperation):
		writeErrorResponse(res, "you cannot buy your own item", http.StatusBadRequest)
	case errors.Is(err, models.ErrInvalidInput):
		writeErrorResponse(res, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrBusy), errors.Is(err, context.DeadlineExceeded):
		writeErrorResponse(res, "service busy, try again", http.StatusServiceUnavailable)
	default:
		handlers.log.Sugar().Errorf("Request failed: %s", err)
		writeErrorResponse(res, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(res http.ResponseWriter, statusCode int, payload interface{}) {
	result, err := json.Marshal(payload)
	if err != nil {
		writeErrorResponse(res, err.Error(), http.StatusInternalServerError)
		return
	}

	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(statusCode)
	res.Write(result)
}

func writeErrorResponse(res http.ResponseWriter, errorInfo string, statusCode int) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(statusCode)
	json.NewEncoder(res).Encode(models.ErrorResponse{Errors: errorInfo})
}
