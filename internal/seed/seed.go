// Package seed загружает справочники клиентов и товаров из JSON-файла.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

// File: содержимое seed-файла.
type File struct {
	Customers []Customer `json:"customers"`
	Products  []Product  `json:"products"`
}

// Customer: клиент в seed-файле.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Product: товар в seed-файле. Цена может быть null.
type Product struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Price             decimal.NullDecimal `json:"price"`
	AvailableQuantity int32               `json:"available_quantity"`
}

// Target принимает записи справочников.
type Target interface {
	UpsertCustomer(ctx context.Context, customer domain.Customer) error
	UpsertProduct(ctx context.Context, product domain.Product) error
}

// Load читает и проверяет seed-файл.
func Load(r io.Reader) (File, error) {
	var file File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

// LoadFile читает seed-файл с диска.
func LoadFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Validate проверяет записи файла.
func (f File) Validate() error {
	var errs []error
	for i, c := range f.Customers {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("customers[%d]: id is required", i))
		}
	}
	for i, p := range f.Products {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("products[%d]: id is required", i))
		}
		if p.AvailableQuantity < 0 {
			errs = append(errs, fmt.Errorf("products[%d]: available_quantity must be >= 0", i))
		}
		if p.Price.Valid && p.Price.Decimal.IsNegative() {
			errs = append(errs, fmt.Errorf("products[%d]: price must be >= 0", i))
		}
	}
	return errors.Join(errs...)
}

// Apply записывает клиентов и товары в target.
func Apply(ctx context.Context, target Target, file File, logger *log.Entry) error {
	if logger == nil {
		logger = log.WithField("component", "seed")
	}

	now := time.Now().UTC()
	for _, c := range file.Customers {
		if err := target.UpsertCustomer(ctx, domain.Customer{ID: c.ID, Name: c.Name, Email: c.Email, CreatedAt: now}); err != nil {
			return fmt.Errorf("upsert customer %s: %w", c.ID, err)
		}
	}
	for _, p := range file.Products {
		product := domain.Product{
			ID:                p.ID,
			Name:              p.Name,
			Price:             p.Price,
			AvailableQuantity: p.AvailableQuantity,
			UpdatedAt:         now,
		}
		if err := target.UpsertProduct(ctx, product); err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}

	logger.WithFields(log.Fields{
		"customers": len(file.Customers),
		"products":  len(file.Products),
	}).Info("seed applied")
	return nil
}

type memoryTarget struct {
	store *memory.Store
}

// MemoryTarget возвращает Target поверх in-memory хранилища.
func MemoryTarget(store *memory.Store) Target {
	return memoryTarget{store: store}
}

func (t memoryTarget) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.PutCustomer(customer)
	return nil
}

func (t memoryTarget) UpsertProduct(ctx context.Context, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.PutProduct(product)
	return nil
}

type postgresTarget struct {
	store *postgres.Store
}

// PostgresTarget возвращает Target поверх PostgreSQL.
func PostgresTarget(store *postgres.Store) Target {
	return postgresTarget{store: store}
}

func (t postgresTarget) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	return t.store.Customers().Upsert(ctx, customer)
}

func (t postgresTarget) UpsertProduct(ctx context.Context, product domain.Product) error {
	return t.store.Products().Upsert(ctx, product)
}
