package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/migrations"
)

var cartColumns = []string{"id", "user_id", "items", "status", "version", "created_at", "updated_at"}

func TestFindOpenCart_DecodesRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM carts WHERE active_user_id = ?`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cartColumns).
			AddRow("c1", "u1", []byte(`[{"productId":"p1","quantity":2}]`), "OPEN", 3, now, now))

	cart, err := NewMySQLAdapter(db).FindOpenCart(context.Background(), "u1")
	if err != nil {
		t.Fatalf("FindOpenCart failed: %v", err)
	}
	if cart == nil || cart.ID != "c1" || cart.Version != 3 || cart.Status != domain.CartStatusOpen {
		t.Fatalf("unexpected cart: %+v", cart)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "p1" || cart.Items[0].Quantity != 2 {
		t.Errorf("unexpected items: %+v", cart.Items)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindOpenCart_NoneReturnsNil(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM carts WHERE active_user_id = ?`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cartColumns))

	cart, err := NewMySQLAdapter(db).FindOpenCart(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart != nil {
		t.Errorf("expected nil cart, got %+v", cart)
	}
}

func TestFindOpenCart_CorruptItems(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM carts WHERE active_user_id = ?`)).
		WillReturnRows(sqlmock.NewRows(cartColumns).AddRow("c1", "u1", []byte(`{oops`), "OPEN", 1, now, now))

	if _, err := NewMySQLAdapter(db).FindOpenCart(context.Background(), "u1"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSaveOpenCart_InsertNew(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	cart := domain.NewCart("u1")
	cart.AddItem("p1", 1)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO carts`)).
		WithArgs(cart.ID, "u1", "u1", []byte(`[{"productId":"p1","quantity":1}]`), "OPEN", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewMySQLAdapter(db).SaveOpenCart(context.Background(), cart); err != nil {
		t.Fatalf("SaveOpenCart failed: %v", err)
	}
	if cart.Version != 1 {
		t.Errorf("expected version 1, got %d", cart.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveOpenCart_InsertRacesExistingCart(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO carts`)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'u1' for key 'uq_carts_active_user'"})

	err := NewMySQLAdapter(db).SaveOpenCart(context.Background(), domain.NewCart("u1"))
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got: %v", err)
	}
}

func TestSaveOpenCart_VersionedUpdate(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	cart := domain.NewCart("u1")
	cart.Version = 4

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE carts SET items = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`)).
		WithArgs([]byte(`[]`), sqlmock.AnyArg(), cart.ID, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewMySQLAdapter(db).SaveOpenCart(context.Background(), cart); err != nil {
		t.Fatalf("SaveOpenCart failed: %v", err)
	}
	if cart.Version != 5 {
		t.Errorf("expected version 5, got %d", cart.Version)
	}
}

func TestSaveOpenCart_StaleVersion(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	cart := domain.NewCart("u1")
	cart.Version = 2

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE carts`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewMySQLAdapter(db).SaveOpenCart(context.Background(), cart)
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got: %v", err)
	}
	if cart.Version != 2 {
		t.Errorf("version must not move on conflict, got %d", cart.Version)
	}
}

func TestCloseCart_ReleasesActiveSlot(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	cart := domain.NewCart("u1")
	cart.Version = 1

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'CLOSED', active_user_id = NULL`)).
		WithArgs(sqlmock.AnyArg(), cart.ID, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewMySQLAdapter(db).CloseCart(context.Background(), cart); err != nil {
		t.Fatalf("CloseCart failed: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'CLOSED'`)).
		WillReturnError(sql.ErrConnDone)

	err := NewMySQLAdapter(db).CloseCart(context.Background(), cart)
	if err == nil || errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected driver error, got: %v", err)
	}
}

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/cartservice?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := migrations.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	return db
}

func TestMySQLAdapter_CartLifecycle(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	userID := "test-user-" + uuid.NewString()
	defer db.ExecContext(ctx, `DELETE FROM carts WHERE user_id = ?`, userID)

	cart := domain.NewCart(userID)
	cart.AddItem("p1", 2)
	if err := adapter.SaveOpenCart(ctx, cart); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// A second OPEN cart for the same user is rejected by the unique index
	if err := adapter.SaveOpenCart(ctx, domain.NewCart(userID)); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict for duplicate open cart, got: %v", err)
	}

	found, err := adapter.FindOpenCart(ctx, userID)
	if err != nil || found == nil {
		t.Fatalf("FindOpenCart: cart=%v err=%v", found, err)
	}
	if found.Quantity("p1") != 2 {
		t.Errorf("expected quantity 2, got %d", found.Quantity("p1"))
	}

	stale := found.Clone()
	found.AddItem("p1", 1)
	if err := adapter.SaveOpenCart(ctx, found); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	stale.AddItem("p2", 1)
	if err := adapter.SaveOpenCart(ctx, stale); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict for stale write, got: %v", err)
	}

	found.Close()
	if err := adapter.CloseCart(ctx, found); err != nil {
		t.Fatalf("CloseCart failed: %v", err)
	}
	if open, _ := adapter.FindOpenCart(ctx, userID); open != nil {
		t.Error("closed cart is still returned as open")
	}

	// The user can open a fresh cart once the previous one is closed
	if err := adapter.SaveOpenCart(ctx, domain.NewCart(userID)); err != nil {
		t.Errorf("new cart after close failed: %v", err)
	}
}
