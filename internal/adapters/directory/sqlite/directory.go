// Package sqlitedir реализует справочник покупателей в SQLite: внутренний user_id →
// Telegram username. Диспетчер доставки только читает его; запись нужна для
// привязки из консоли и импорта.
package sqlitedir

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"delivery-userbot/internal/infra/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id           INTEGER PRIMARY KEY,
	telegram_username TEXT,
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Directory: sqlx поверх файла SQLite.
type Directory struct {
	db *sqlx.DB
}

// Entry: строка справочника.
type Entry struct {
	UserID   int64          `db:"user_id"`
	Username sql.NullString `db:"telegram_username"`
}

// Open подключается к файлу (WAL, внешние ключи, busy timeout) и применяет схему.
func Open(ctx context.Context, path string) (*Directory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlitedir: path is empty")
	}
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "sqlitedir: ensure dir")
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitedir: connect")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlitedir: migrate")
	}
	return &Directory{db: db}, nil
}

// Close закрывает соединение.
func (d *Directory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Username возвращает username покупателя. ok=false: записи нет или она пустая.
func (d *Directory) Username(ctx context.Context, userID int64) (string, bool, error) {
	var e Entry
	err := d.db.GetContext(ctx, &e, `SELECT user_id, telegram_username FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "sqlitedir: lookup user %d", userID)
	}
	name := strings.TrimSpace(e.Username.String)
	if !e.Username.Valid || name == "" {
		return "", false, nil
	}
	return name, true, nil
}

// SetUsername создаёт или обновляет привязку. Пустой username стирает её.
func (d *Directory) SetUsername(ctx context.Context, userID int64, username string) error {
	name := sql.NullString{String: strings.TrimSpace(username)}
	name.Valid = name.String != ""
	_, err := d.db.ExecContext(ctx, `
INSERT INTO users (user_id, telegram_username, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(user_id) DO UPDATE SET
	telegram_username = excluded.telegram_username,
	updated_at = CURRENT_TIMESTAMP`, userID, name)
	if err != nil {
		return errors.Wrapf(err, "sqlitedir: bind user %d", userID)
	}
	return nil
}

// List возвращает все записи по возрастанию user_id.
func (d *Directory) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	if err := d.db.SelectContext(ctx, &out, `SELECT user_id, telegram_username FROM users ORDER BY user_id`); err != nil {
		return nil, errors.Wrap(err, "sqlitedir: list")
	}
	return out, nil
}
