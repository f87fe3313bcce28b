package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rebanada-bot-backend/internal/db"
)

// OrderArchive stores finalized orders in PostgreSQL
type OrderArchive struct {
	db  *db.DB
	now func() time.Time
}

// NewOrderArchive creates a new order archive
func NewOrderArchive(database *db.DB) *OrderArchive {
	return &OrderArchive{db: database, now: time.Now}
}

// ArchivedOrder is a finalized order as stored
type ArchivedOrder struct {
	ID        string          `json:"id"`
	SenderID  string          `json:"senderId"`
	Channel   string          `json:"channel"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"order"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SaveOrder records a finalized order and returns its id
func (a *OrderArchive) SaveOrder(ctx context.Context, senderID, channel, status string, payload json.RawMessage) (string, error) {
	if senderID == "" || len(payload) == 0 {
		return "", fmt.Errorf("sender_id and payload are required")
	}

	id := uuid.NewString()
	query := `
		INSERT INTO orders (id, sender_id, channel, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := a.db.ExecContext(ctx, query, id, senderID, channel, status, []byte(payload), a.now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to save order: %w", err)
	}

	return id, nil
}

// ListBySender returns the most recent orders of a sender, newest first
func (a *OrderArchive) ListBySender(ctx context.Context, senderID string, limit int) ([]ArchivedOrder, error) {
	if senderID == "" {
		return nil, fmt.Errorf("sender_id is required")
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, sender_id, channel, status, payload, created_at
		FROM orders
		WHERE sender_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := a.db.QueryContext(ctx, query, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var out []ArchivedOrder
	for rows.Next() {
		var o ArchivedOrder
		var payload []byte
		if err := rows.Scan(&o.ID, &o.SenderID, &o.Channel, &o.Status, &payload, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Payload = payload
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	return out, nil
}
