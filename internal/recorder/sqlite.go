package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"ExchangeObserver/internal/model"
)

// SQLiteLedger persists transfers and the debt monitor to a SQLite database.
type SQLiteLedger struct {
	db     *sql.DB
	mu     sync.Mutex
	logger log.FieldLogger
}

// NewSQLiteLedger opens (or creates) the SQLite database and runs migrations.
func NewSQLiteLedger(dbPath string, logger log.FieldLogger) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// WAL mode so the API and CLI can read while the jobs write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	l := &SQLiteLedger{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.WithField("path", dbPath).Info("sqlite ledger opened")
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transfers (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at  INTEGER NOT NULL,
			source      TEXT NOT NULL,
			destination TEXT NOT NULL,
			asset       TEXT NOT NULL,
			amount      TEXT NOT NULL,
			fee         TEXT NOT NULL,
			index_price TEXT NOT NULL,
			reason      TEXT,
			request_id  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_ts ON transfers(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_asset ON transfers(asset)`,

		`CREATE TABLE IF NOT EXISTS debt_monitor (
			symbol     TEXT PRIMARY KEY,
			amount     TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			reason     TEXT NOT NULL,
			comment    TEXT,
			category   TEXT NOT NULL
		)`,
	}

	for _, s := range stmts {
		if _, err := l.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (l *SQLiteLedger) AppendTransfer(ctx context.Context, rec *model.TransferRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := l.db.ExecContext(ctx, `INSERT INTO transfers
		(created_at, source, destination, asset, amount, fee, index_price, reason, request_id)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.CreatedAt.UnixMilli(), rec.Source, rec.Destination, rec.Asset,
		rec.Amount.String(), rec.Fee.String(), rec.IndexPrice.String(),
		rec.Reason, rec.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transfer id: %w", err)
	}
	rec.ID = id
	return nil
}

// likeEscaper escapes LIKE wildcards so search text matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (l *SQLiteLedger) ListTransfers(ctx context.Context, filter model.TransferFilter) ([]model.TransferRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.LastSeenID > 0 {
		where = append(where, "id < ?")
		args = append(args, filter.LastSeenID)
	}
	if filter.Asset != "" {
		where = append(where, "asset = ?")
		args = append(args, filter.Asset)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UnixMilli())
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UnixMilli())
	}
	if filter.SearchText != "" {
		like := "%" + likeEscaper.Replace(filter.SearchText) + "%"
		where = append(where, `(source LIKE ? ESCAPE '\' OR destination LIKE ? ESCAPE '\' OR reason LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}

	query := `SELECT id, created_at, source, destination, asset, amount, fee, index_price, reason, request_id
		FROM transfers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, filter.Limit())

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []model.TransferRecord
	for rows.Next() {
		var (
			rec       model.TransferRecord
			createdAt int64
			reason    sql.NullString
			requestID sql.NullString
		)
		if err := rows.Scan(&rec.ID, &createdAt, &rec.Source, &rec.Destination, &rec.Asset,
			&rec.Amount, &rec.Fee, &rec.IndexPrice, &reason, &requestID); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		rec.Reason = reason.String
		rec.RequestID = requestID.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Upsert(ctx context.Context, entry model.DebtMonitorEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO debt_monitor
		(symbol, amount, updated_at, reason, comment, category)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(symbol) DO UPDATE SET
			amount = excluded.amount,
			updated_at = excluded.updated_at,
			reason = excluded.reason,
			comment = excluded.comment,
			category = excluded.category`,
		entry.Symbol, entry.Amount.String(), entry.UpdatedAt.UnixMilli(),
		entry.Reason, entry.Comment, entry.Category,
	)
	if err != nil {
		return fmt.Errorf("upsert monitor entry %s: %w", entry.Symbol, err)
	}
	return nil
}

func (l *SQLiteLedger) Delete(ctx context.Context, symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.ExecContext(ctx, `DELETE FROM debt_monitor WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("delete monitor entry %s: %w", symbol, err)
	}
	return nil
}

func (l *SQLiteLedger) Get(ctx context.Context, symbol string) (*model.DebtMonitorEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := l.db.QueryRowContext(ctx, `SELECT symbol, amount, updated_at, reason, comment, category
		FROM debt_monitor WHERE symbol = ?`, symbol)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor entry %s: %w", symbol, err)
	}
	return entry, nil
}

func (l *SQLiteLedger) List(ctx context.Context) ([]model.DebtMonitorEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `SELECT symbol, amount, updated_at, reason, comment, category
		FROM debt_monitor ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list monitor entries: %w", err)
	}
	defer rows.Close()

	var out []model.DebtMonitorEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitor entry: %w", err)
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*model.DebtMonitorEntry, error) {
	var (
		entry     model.DebtMonitorEntry
		updatedAt int64
		comment   sql.NullString
	)
	if err := s.Scan(&entry.Symbol, &entry.Amount, &updatedAt, &entry.Reason, &comment, &entry.Category); err != nil {
		return nil, err
	}
	entry.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	entry.Comment = comment.String
	return &entry, nil
}

func (l *SQLiteLedger) Close() error {
	l.logger.Info("closing sqlite ledger")
	return l.db.Close()
}
