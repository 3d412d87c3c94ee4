package api

import (
	"context"
	"fmt"
)

const pathIngredients = "inventory/ingredients/"

// Ingredient is an inventory item
type Ingredient struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Quantity Decimal `json:"quantity,omitempty"`
}

// IngredientInput is the writable part of an ingredient
type IngredientInput struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// ListIngredients returns all ingredients
func (c *Client) ListIngredients(ctx context.Context) ([]Ingredient, error) {
	var out []Ingredient
	if err := c.Get(ctx, pathIngredients, nil, &out); err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	return out, nil
}

// CreateIngredient adds an ingredient
func (c *Client) CreateIngredient(ctx context.Context, in IngredientInput) (*Ingredient, error) {
	var out Ingredient
	if err := c.Post(ctx, pathIngredients, in, &out); err != nil {
		return nil, fmt.Errorf("create ingredient: %w", err)
	}
	return &out, nil
}

// UpdateIngredient replaces name and unit of ingredient id
func (c *Client) UpdateIngredient(ctx context.Context, id int, in IngredientInput) (*Ingredient, error) {
	var out Ingredient
	if err := c.Put(ctx, ingredientPath(id), in, &out); err != nil {
		return nil, fmt.Errorf("update ingredient %d: %w", id, err)
	}
	return &out, nil
}

// DeleteIngredient removes ingredient id
func (c *Client) DeleteIngredient(ctx context.Context, id int) error {
	if err := c.Delete(ctx, ingredientPath(id)); err != nil {
		return fmt.Errorf("delete ingredient %d: %w", id, err)
	}
	return nil
}

func ingredientPath(id int) string {
	return fmt.Sprintf("%s%d/", pathIngredients, id)
}
