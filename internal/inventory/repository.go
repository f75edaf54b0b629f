package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type postgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, sku, price, discount, stock, is_active, category_ids, images, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var p Product
	var categoryIDs []string
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.SKU,
		&p.Price,
		&p.Discount,
		&p.Stock,
		&p.IsActive,
		&categoryIDs,
		&p.Images,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product by id %s: %w", id, err)
	}

	p.CategoryIDs, err = parseCategoryIDs(categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: product %s: %w", id, err)
	}

	return &p, nil
}

func (s *postgresStore) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error) {
	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = $3
		WHERE id = $1 AND stock >= $2
		RETURNING stock
	`

	var remaining int
	err := s.db.QueryRow(ctx, query, id, qty, time.Now().UTC()).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("repository: failed to decrement stock for product %s: %w", id, err)
	}

	// The guard rejected the update: either the product is gone or there is not enough stock.
	var available int
	err = s.db.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, id).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("repository: failed to read stock for product %s: %w", id, err)
	}

	log.Warn().Stringer("product_id", id).Int("available", available).Int("requested", qty).Msg("repository: stock decrement rejected")
	return available, ErrInsufficientStock
}

func (s *postgresStore) RestoreStock(ctx context.Context, id uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock = stock + $2, updated_at = $3
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, id, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to restore stock for product %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}

	return nil
}

func (s *postgresStore) CreateProduct(ctx context.Context, p *Product) error {
	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate product ID: %w", err)
		}
		p.ID = id
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO products (id, name, sku, price, discount, stock, is_active, category_ids, images, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.Exec(ctx, query,
		p.ID,
		p.Name,
		p.SKU,
		p.Price,
		p.Discount,
		p.Stock,
		p.IsActive,
		formatCategoryIDs(p.CategoryIDs),
		nonNilImages(p.Images),
		now,
		now,
	)
	if err != nil {
		return mapConstraintError(fmt.Errorf("repository: failed to insert product: %w", err))
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (s *postgresStore) UpdateProduct(ctx context.Context, p *Product) error {
	query := `
		UPDATE products
		SET name = $1, sku = $2, price = $3, discount = $4, stock = $5, is_active = $6,
		    category_ids = $7, images = $8, updated_at = $9
		WHERE id = $10
		RETURNING created_at
	`

	now := time.Now().UTC()
	err := s.db.QueryRow(ctx, query,
		p.Name,
		p.SKU,
		p.Price,
		p.Discount,
		p.Stock,
		p.IsActive,
		formatCategoryIDs(p.CategoryIDs),
		nonNilImages(p.Images),
		now,
		p.ID,
	).Scan(&p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}
		return mapConstraintError(fmt.Errorf("repository: failed to update product %s: %w", p.ID, err))
	}

	p.UpdatedAt = now
	return nil
}

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return ErrDuplicateSKU
	case pgerrcode.CheckViolation:
		return fmt.Errorf("%w: %s", ErrInvalidProduct, pgErr.ConstraintName)
	default:
		return err
	}
}

func parseCategoryIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.FromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid category id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatCategoryIDs(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func nonNilImages(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}
