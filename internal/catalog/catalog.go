package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"shopchat/internal/models"
)

// Store reads and seeds the fixed product catalog. The chat core only
// consumes it when projecting products into the similarity index. The
// driver selects the upsert dialect, like storage.Migrate.
type Store struct {
	db     *sql.DB
	driver string
}

func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

type productRecord struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	Image       string  `json:"image"`
}

// Seed loads the catalog JSON into the products table. Existing rows
// with matching ids are replaced, so re-running at startup is safe.
func (s *Store) Seed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var records []productRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("decode catalog: %w", err)
	}

	stmt, err := upsertProductStmt(s.driver)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if rec.ID <= 0 {
			return 0, fmt.Errorf("catalog entry %q has invalid id", rec.Name)
		}
		_, err := tx.ExecContext(ctx, stmt,
			rec.ID, rec.Name, rec.Description, rec.Price, rec.Category, rec.Image,
		)
		if err != nil {
			return 0, fmt.Errorf("seed product %d: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return len(records), nil
}

// upsertProductStmt returns the replace-on-reseed insert for the driver.
func upsertProductStmt(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return `INSERT INTO products (id, name, description, price, category, image_url)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   name = excluded.name,
			   description = excluded.description,
			   price = excluded.price,
			   category = excluded.category,
			   image_url = excluded.image_url`, nil
	case "mysql":
		return `INSERT INTO products (id, name, description, price, category, image_url)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE
			   name = VALUES(name),
			   description = VALUES(description),
			   price = VALUES(price),
			   category = VALUES(category),
			   image_url = VALUES(image_url)`, nil
	default:
		return "", fmt.Errorf("unsupported driver for seeding: %s", driver)
	}
}

// List returns the full catalog ordered by id.
func (s *Store) List(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, price, category, image_url FROM products ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]models.Product, 0)
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.ImageURL); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Get returns one product or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, price, category, image_url FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.ImageURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// DocumentText renders a product as the free text stored in the
// similarity index.
func DocumentText(p models.Product) string {
	return fmt.Sprintf("%s. %s. Price: %.2f", p.Name, p.Description, p.Price)
}
