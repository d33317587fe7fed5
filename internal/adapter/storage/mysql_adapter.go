package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/rl1809/cart-service/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

// MySQLAdapter stores carts. The OPEN cart of a user is the row whose
// active_user_id equals the user id; closing a cart nulls that column so the
// unique index admits at most one OPEN cart per user.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) FindOpenCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var (
		cart   domain.Cart
		items  []byte
		status string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, items, status, version, created_at, updated_at
		FROM carts WHERE active_user_id = ?`, userID,
	).Scan(&cart.ID, &cart.UserID, &items, &status, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query open cart")
	}

	if err := json.Unmarshal(items, &cart.Items); err != nil {
		return nil, errors.Wrapf(err, "decode items of cart %s", cart.ID)
	}
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	cart.Status = domain.CartStatus(status)
	return &cart, nil
}

func (m *MySQLAdapter) SaveOpenCart(ctx context.Context, cart *domain.Cart) error {
	items, err := encodeItems(cart.Items)
	if err != nil {
		return err
	}

	if cart.Version == 0 {
		_, err := m.db.ExecContext(ctx, `
			INSERT INTO carts (id, user_id, active_user_id, items, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			cart.ID, cart.UserID, cart.UserID, items, string(domain.CartStatusOpen),
			cart.CreatedAt, cart.UpdatedAt,
		)
		if isDuplicateEntry(err) {
			return domain.ErrVersionConflict
		}
		if err != nil {
			return errors.Wrap(err, "insert cart")
		}
		cart.Version = 1
		return nil
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE carts
		SET items = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status = 'OPEN'`,
		items, cart.UpdatedAt, cart.ID, cart.Version,
	)
	if err != nil {
		return errors.Wrap(err, "update cart")
	}
	if err := requireOneRow(result); err != nil {
		return err
	}

	cart.Version++
	return nil
}

func (m *MySQLAdapter) CloseCart(ctx context.Context, cart *domain.Cart) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE carts
		SET status = 'CLOSED', active_user_id = NULL, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status = 'OPEN'`,
		cart.UpdatedAt, cart.ID, cart.Version,
	)
	if err != nil {
		return errors.Wrap(err, "close cart")
	}
	if err := requireOneRow(result); err != nil {
		return err
	}

	cart.Version++
	return nil
}

func encodeItems(items []domain.LineItem) ([]byte, error) {
	if items == nil {
		items = []domain.LineItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, errors.Wrap(err, "encode cart items")
	}
	return b, nil
}

func requireOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
