package api

import (
	"context"
	"fmt"
)

const pathTransactions = "inventory/transactions/"

// Transaction is one stock movement of an ingredient
type Transaction struct {
	ID              int         `json:"id"`
	Ingredient      *Ingredient `json:"ingredient,omitempty"`
	TransactionType string      `json:"transaction_type"`
	Quantity        Decimal     `json:"quantity"`
	Note            string      `json:"note,omitempty"`
	CreatedAt       string      `json:"created_at,omitempty"`
}

// TransactionInput records a stock movement
type TransactionInput struct {
	IngredientID    int    `json:"ingredient_id"`
	TransactionType string `json:"transaction_type"`
	Quantity        string `json:"quantity"`
	Note            string `json:"note"`
}

// ListTransactions returns the transaction log
func (c *Client) ListTransactions(ctx context.Context) ([]Transaction, error) {
	var out []Transaction
	if err := c.Get(ctx, pathTransactions, nil, &out); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

// CreateTransaction logs a stock movement
func (c *Client) CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, error) {
	var out Transaction
	if err := c.Post(ctx, pathTransactions, in, &out); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return &out, nil
}
