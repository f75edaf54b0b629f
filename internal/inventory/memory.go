package inventory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

// MemoryStore keeps the catalog in process. It backs local runs with STORE_BACKEND=memory.
type MemoryStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]*Product
	skus     map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[uuid.UUID]*Product),
		skus:     make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) GetProduct(_ context.Context, id uuid.UUID) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) DecrementStock(_ context.Context, id uuid.UUID, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return 0, ErrProductNotFound
	}
	if p.Stock < qty {
		return p.Stock, ErrInsufficientStock
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	return p.Stock, nil
}

func (s *MemoryStore) RestoreStock(_ context.Context, id uuid.UUID, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock += qty
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *Product) error {
	if err := checkConstraints(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("memory: failed to generate product ID: %w", err)
		}
		p.ID = id
	}
	if _, taken := s.skus[p.SKU]; taken {
		return ErrDuplicateSKU
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.products[p.ID] = clone(p)
	s.skus[p.SKU] = p.ID
	return nil
}

func (s *MemoryStore) UpdateProduct(_ context.Context, p *Product) error {
	if err := checkConstraints(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[p.ID]
	if !ok {
		return ErrProductNotFound
	}
	if owner, taken := s.skus[p.SKU]; taken && owner != p.ID {
		return ErrDuplicateSKU
	}

	delete(s.skus, existing.SKU)
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.products[p.ID] = clone(p)
	s.skus[p.SKU] = p.ID
	return nil
}

// Mirrors the CHECK constraints of the products table.
func checkConstraints(p *Product) error {
	switch {
	case p.Stock < 0:
		return fmt.Errorf("%w: stock", ErrInvalidProduct)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: price", ErrInvalidProduct)
	case p.Discount.IsNegative() || p.Discount.GreaterThan(maxDiscount):
		return fmt.Errorf("%w: discount", ErrInvalidProduct)
	}
	return nil
}

func clone(p *Product) *Product {
	c := *p
	c.Images = slices.Clone(p.Images)
	c.CategoryIDs = slices.Clone(p.CategoryIDs)
	return &c
}
