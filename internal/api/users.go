package api

import (
	"context"
	"fmt"
)

const pathUsers = "users/"

// User is an employee account
type User struct {
	ID            int    `json:"id"`
	Username      string `json:"username"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	ContactNumber string `json:"contact_number"`
	Role          string `json:"role"`
	IsBlocked     bool   `json:"is_blocked"`
}

// FullName returns "First Last", falling back to the username
func (u User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// UserInput creates or updates an account. An empty password on update
// leaves the current one.
type UserInput struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	ContactNumber string `json:"contact_number"`
	Password      string `json:"password,omitempty"`
	Role          string `json:"role"`
}

// ListUsers returns all accounts
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.Get(ctx, pathUsers, nil, &out); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// CreateUser adds an account
func (c *Client) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	var out User
	if err := c.Post(ctx, pathUsers, in, &out); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &out, nil
}

// UpdateUser replaces the account id
func (c *Client) UpdateUser(ctx context.Context, id int, in UserInput) (*User, error) {
	var out User
	if err := c.Put(ctx, userPath(id, ""), in, &out); err != nil {
		return nil, fmt.Errorf("update user %d: %w", id, err)
	}
	return &out, nil
}

// SetUserBlocked blocks or unblocks account id
func (c *Client) SetUserBlocked(ctx context.Context, id int, blocked bool) error {
	action := "unblock"
	if blocked {
		action = "block"
	}
	if err := c.Post(ctx, userPath(id, action), nil, nil); err != nil {
		return fmt.Errorf("%s user %d: %w", action, id, err)
	}
	return nil
}

func userPath(id int, action string) string {
	if action == "" {
		return fmt.Sprintf("%s%d/", pathUsers, id)
	}
	return fmt.Sprintf("%s%d/%s/", pathUsers, id, action)
}
