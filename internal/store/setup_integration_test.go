package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires docker")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		postgres.BasicWaitStrategies(),
	)
	// Equivalent of testcontainers.CleanupContainer, which is unavailable in
	// the Go 1.21-compatible testcontainers release.
	t.Cleanup(func() {
		if ctr != nil {
			if err := ctr.Terminate(context.Background()); err != nil {
				t.Errorf("terminate container: %v", err)
			}
		}
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	})

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := database.Migrate(db, "../../migrations", database.MigrateUp); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

var skuSeq atomic.Int64

func createProduct(t *testing.T, db *sql.DB, price int64, discount, stock int) *models.Product {
	t.Helper()
	p, err := store.CreateProduct(context.Background(), db, store.CreateProductRequest{
		SKU:      fmt.Sprintf("TEST-%03d", skuSeq.Add(1)),
		Name:     "Test Product",
		Price:    decimal.NewFromInt(price),
		Discount: discount,
		Stock:    stock,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return p
}

func createUser(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), db, email, "Test User")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return u
}
