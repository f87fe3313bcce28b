package types

import (
	"encoding/json"

	"rebanada-bot-backend/internal/store"
)

// BotRequest is the webhook body sent by the messaging front end.
type BotRequest struct {
	From    string `json:"from"`
	Body    string `json:"body"`
	Channel string `json:"channel"`
}

// BotResponse is the shape the front end expects back. Order is always
// present, null when there is no structured order.
type BotResponse struct {
	Reply string          `json:"reply"`
	Done  bool            `json:"done"`
	Order json.RawMessage `json:"order"`
}

type ReloadResponse struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	Pizzas    int    `json:"pizzas"`
	Promos    int    `json:"promos"`
	Beverages int    `json:"bebidas"`
}

type HealthResponse struct {
	OK       bool   `json:"ok"`
	Mode     string `json:"mode,omitempty"`
	Database string `json:"database,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// OrdersResponse lists archived orders of one sender, newest first.
type OrdersResponse struct {
	SenderID string                `json:"senderId"`
	Orders   []store.ArchivedOrder `json:"orders"`
}
