package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rl1809/cart-service/internal/core/domain"
)

var productColumns = []string{"id", "name", "description", "price", "stock", "created_at", "updated_at"}

func newGormMock(t *testing.T) (*ProductGormAdapter, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}

	return NewProductGormAdapter(gdb), mock
}

func TestFindProduct_MapsRow(t *testing.T) {
	adapter, mock := newGormMock(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT \\* FROM `products` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(productColumns).AddRow("p1", "Laptop", "thin", "1000.00", 50, now, now))

	product, err := adapter.FindProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("FindProduct failed: %v", err)
	}
	if product == nil || product.Name != "Laptop" || product.Stock != 50 {
		t.Fatalf("unexpected product: %+v", product)
	}
	if !product.Price.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected price 1000, got %s", product.Price)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindProduct_MissingReturnsNil(t *testing.T) {
	adapter, mock := newGormMock(t)

	mock.ExpectQuery("SELECT \\* FROM `products` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(productColumns))

	product, err := adapter.FindProduct(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product != nil {
		t.Errorf("expected nil, got %+v", product)
	}
}

func TestUpdateStock(t *testing.T) {
	adapter, mock := newGormMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `products` SET `stock`=?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := adapter.UpdateStock(context.Background(), "p1", 7); err != nil {
		t.Fatalf("UpdateStock failed: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `products` SET `stock`=?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := adapter.UpdateStock(context.Background(), "ghost", 7)
	if !errors.Is(err, ErrProductMissing) {
		t.Errorf("expected ErrProductMissing, got: %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected missing row to match domain.ErrNotFound, got: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateProduct(t *testing.T) {
	adapter, mock := newGormMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `products`")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now().UTC()
	err := adapter.CreateProduct(context.Background(), &domain.Product{
		ID:        "p1",
		Name:      "Mouse",
		Price:     decimal.NewFromInt(30),
		Stock:     500,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateProduct_Missing(t *testing.T) {
	adapter, mock := newGormMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `products` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := adapter.UpdateProduct(context.Background(), &domain.Product{ID: "ghost", Name: "x", Price: decimal.NewFromInt(1)})
	if !errors.Is(err, ErrProductMissing) {
		t.Errorf("expected ErrProductMissing, got: %v", err)
	}
}

func TestListProducts_CountsAndPages(t *testing.T) {
	adapter, mock := newGormMock(t)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `products`")).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `products` ORDER BY created_at, id")).
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow("p11", "Keyboard", "", "50.00", 300, now, now).
			AddRow("p12", "Mouse", "", "30.00", 500, now, now))

	products, total, err := adapter.ListProducts(context.Background(), 10, 10)
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if total != 12 {
		t.Errorf("expected total 12, got %d", total)
	}
	if len(products) != 2 || products[1].ID != "p12" {
		t.Errorf("unexpected page: %+v", products)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
