package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/rl1809/cart-service/internal/adapter/storage"
	"github.com/rl1809/cart-service/internal/config"
	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/internal/logger"
	"github.com/rl1809/cart-service/migrations"
)

var catalog = []struct {
	name        string
	description string
	price       string
	stock       int
}{
	{"Laptop", "High-performance laptop", "1000.00", 50},
	{"Smartphone", "Latest model smartphone", "500.00", 100},
	{"Headphones", "Noise-cancelling headphones", "100.00", 200},
	{"Monitor", "4K Ultra HD monitor", "300.00", 150},
	{"Keyboard", "Mechanical keyboard", "50.00", 300},
	{"Mouse", "Wireless mouse", "30.00", 500},
}

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.ServiceName+"-seed", cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatal("failed to connect mysql", zap.Error(err))
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		log.Fatal("failed to apply schema", zap.Error(err))
	}

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: db}), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		log.Fatal("failed to open gorm", zap.Error(err))
	}
	products := storage.NewProductGormAdapter(gdb)

	now := time.Now().UTC()
	for _, item := range catalog {
		product := &domain.Product{
			ID:          uuid.NewString(),
			Name:        item.name,
			Description: item.description,
			Price:       decimal.RequireFromString(item.price),
			Stock:       item.stock,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := products.CreateProduct(ctx, product); err != nil {
			log.Fatal("failed to seed product", zap.String("name", item.name), zap.Error(err))
		}
		log.Info("seeded product",
			zap.String("product_id", product.ID),
			zap.String("name", product.Name),
			zap.Int("stock", product.Stock),
		)
	}

	log.Info("seed complete", zap.Int("products", len(catalog)))
}
