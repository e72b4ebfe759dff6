package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	apperrors "stockr/internal/pkg/errors"
	"stockr/internal/platform/models"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	// sqlmock and other drivers surface constraint failures as plain errors
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *ProductRepository) Create(p *models.Product) error {
	p.ID = uuid.New().String()
	now := time.Now().Unix()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Status = models.NormalizeStatus(p.Status)

	query := `
		INSERT INTO products (id, sku, name, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, p.ID, p.SKU, p.Name, p.Description, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflict("product with sku '%s' already exists", p.SKU)
		}
		return err
	}
	return nil
}

func (r *ProductRepository) GetByID(id string) (*models.Product, error) {
	query := `SELECT id, sku, name, description, status, created_at, updated_at FROM products WHERE id = ?`
	return scanProduct(r.db.QueryRow(query, id), "product", id)
}

func (r *ProductRepository) GetBySKU(sku string) (*models.Product, error) {
	query := `SELECT id, sku, name, description, status, created_at, updated_at FROM products WHERE sku = ?`
	return scanProduct(r.db.QueryRow(query, sku), "product", sku)
}

func scanProduct(row *sql.Row, resource, id string) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound(resource, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepository) List() ([]*models.Product, error) {
	query := `SELECT id, sku, name, description, status, created_at, updated_at FROM products ORDER BY updated_at DESC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, &p)
	}
	return products, rows.Err()
}

func (r *ProductRepository) Update(p *models.Product) error {
	p.UpdatedAt = time.Now().Unix()
	query := `
		UPDATE products
		SET sku = ?, name = ?, description = ?, status = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.Exec(query, p.SKU, p.Name, p.Description, p.Status, p.UpdatedAt, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflict("product with sku '%s' already exists", p.SKU)
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NewNotFound("product", p.ID)
	}
	return nil
}

func (r *ProductRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NewNotFound("product", id)
	}
	return nil
}

func (r *ProductRepository) DeleteByIDs(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := r.db.Exec(fmt.Sprintf(`DELETE FROM products WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ProductRepository) DeleteAll() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM products`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExistingSKUs returns which of the given SKUs already have live rows.
// One query per import chunk keeps the create/update partition cheap.
func (r *ProductRepository) ExistingSKUs(skus []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(skus))
	if len(skus) == 0 {
		return existing, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(skus)), ",")
	args := make([]interface{}, len(skus))
	for i, sku := range skus {
		args[i] = sku
	}

	rows, err := r.db.Query(fmt.Sprintf(`SELECT sku FROM products WHERE sku IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, err
		}
		existing[sku] = true
	}
	return existing, rows.Err()
}

// ApplyChunk persists one import chunk as a single transaction: inserts for
// new SKUs, updates for existing ones. The commit is durable on its own;
// later chunks failing do not roll it back.
func (r *ProductRepository) ApplyChunk(creates, updates []*models.Product) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	insertStmt, err := tx.Prepare(`
		INSERT INTO products (id, sku, name, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer insertStmt.Close()

	for _, p := range creates {
		p.ID = uuid.New().String()
		p.CreatedAt = now
		p.UpdatedAt = now
		if _, err := insertStmt.Exec(p.ID, p.SKU, p.Name, p.Description, p.Status, p.CreatedAt, p.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return apperrors.NewConflict("product with sku '%s' already exists", p.SKU)
			}
			return err
		}
	}

	updateStmt, err := tx.Prepare(`
		UPDATE products SET name = ?, description = ?, status = ?, updated_at = ? WHERE sku = ?
	`)
	if err != nil {
		return err
	}
	defer updateStmt.Close()

	for _, p := range updates {
		p.UpdatedAt = now
		if _, err := updateStmt.Exec(p.Name, p.Description, p.Status, p.UpdatedAt, p.SKU); err != nil {
			return err
		}
	}

	return tx.Commit()
}
