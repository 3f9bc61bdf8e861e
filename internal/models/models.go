// Package models defines the data structures used throughout the marketplace.
// It includes the ledger and catalog entities, the purchase receipt, and the
// request and response payloads of the HTTP layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthRequest represents the authentication and registration request payload.
// It contains the username and password provided by the user.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse represents the authentication response payload.
// It contains the generated token upon successful authentication.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents a generic error response payload.
// It contains a string describing the encountered error.
type ErrorResponse struct {
	Errors string `json:"errors"`
}

// Account is a ledger entry: a unique username and its coin balance.
type Account struct {
	Username string `json:"username"`
	Coins    int64  `json:"coins"`
}

// Item is a catalog listing. Items are immutable after creation; only the
// owner may delete them.
type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"itemName"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	ContentRef  string    `json:"image"`
	Owner       string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Receipt describes a completed purchase.
type Receipt struct {
	ID        uuid.UUID `json:"id"`
	ItemID    int64     `json:"itemId"`
	Buyer     string    `json:"buyer"`
	Seller    string    `json:"seller"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// BalanceResponse represents the response payload for the /api/balance endpoint.
type BalanceResponse struct {
	Coins int64 `json:"coins"`
}

// CreateItemResponse is returned after a successful listing.
type CreateItemResponse struct {
	Message string `json:"message"`
	Item    Item   `json:"item"`
}
