package carts

import (
	"context"
	"sync"
)

// MemoryRepository keeps carts in process. It backs local runs without a
// MongoDB URI and the checkout tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*Cart

	// DeleteErr, when set, is returned by DeleteByUser instead of deleting.
	DeleteErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string]*Cart)}
}

// Put stores c as the cart of userID.
func (r *MemoryRepository) Put(userID string, c *Cart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.carts[userID] = &cp
}

// Has reports whether userID still has a cart.
func (r *MemoryRepository) Has(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.carts[userID]
	return ok
}

func (r *MemoryRepository) DeleteByUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	if _, ok := r.carts[userID]; !ok {
		return ErrCartNotFound
	}
	delete(r.carts, userID)
	return nil
}
