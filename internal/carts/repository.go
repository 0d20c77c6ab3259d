package carts

import (
	"context"
	"errors"
)

var ErrCartNotFound = errors.New("cart not found")

// Repository is the slice of the cart store the checkout flow needs.
type Repository interface {
	// DeleteByUser removes the user's cart. Returns ErrCartNotFound when
	// there is nothing to delete.
	DeleteByUser(ctx context.Context, userID string) error
}
