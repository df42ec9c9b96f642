package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"feebot/internal/fees"
	"feebot/internal/platform"
	"feebot/pkg/logx"
)

//go:embed migrations.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version once migrations.sql applied.
const schemaVersion = 1

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// sqliteDSN builds a modernc file URI. DSN pragmas apply to every pooled
// connection.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if busy > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	}
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	st := &sqliteStore{db: db, log: log}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Int("schema", schemaVersion))
	return st, nil
}

// ensureSchema applies migrations.sql when the database is older than
// schemaVersion. The script is idempotent.
func (s *sqliteStore) ensureSchema(ctx context.Context) error {
	var have int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&have); err != nil {
		return err
	}
	switch {
	case have == schemaVersion:
		return nil
	case have > schemaVersion:
		return fmt.Errorf("database schema %d is newer than supported %d", have, schemaVersion)
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	if err == nil {
		s.log.Info("sqlite schema migrated", logx.Int("from", have), logx.Int("to", schemaVersion))
	}
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetSnapshot(ctx context.Context, key string) (fees.Table, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT fees FROM snapshots WHERE series_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var t fees.Table
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %q: %w", key, err)
	}
	return t, true, nil
}

func (s *sqliteStore) PutSnapshot(ctx context.Context, key string, t fees.Table) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots(series_key, fees, updated_at) VALUES(?,?,?)
		 ON CONFLICT(series_key) DO UPDATE SET fees=excluded.fees, updated_at=excluded.updated_at`,
		key, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AddSubscription(ctx context.Context, sub *Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(platform, recipient, from_asset, to_asset, fee_threshold, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(platform, recipient, from_asset, to_asset) DO NOTHING`,
		string(sub.Platform), sub.Recipient.String(), sub.From, sub.To, sub.Threshold.String(),
		sub.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	sub.ID = id
	return nil
}

const subscriptionColumns = `id, platform, recipient, from_asset, to_asset, fee_threshold, created_at`

func (s *sqliteStore) Subscription(ctx context.Context, id int64) (Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	return sub, err
}

func (s *sqliteStore) Subscriptions(ctx context.Context, f Filter) ([]Subscription, error) {
	where, args := filterClause(f)
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateThreshold(ctx context.Context, id int64, threshold decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET fee_threshold = ? WHERE id = ?`, threshold.String(), id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) DeleteSubscriptions(ctx context.Context, f Filter) (int64, error) {
	where, args := filterClause(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions`+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (Subscription, error) {
	var (
		sub                      Subscription
		plat, recip, th, created string
	)
	if err := r.Scan(&sub.ID, &plat, &recip, &sub.From, &sub.To, &th, &created); err != nil {
		return Subscription{}, err
	}
	p, err := platform.Parse(plat)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription %d: %w", sub.ID, err)
	}
	sub.Platform = p
	if sub.Recipient, err = platform.ParseRecipient(p, recip); err != nil {
		return Subscription{}, fmt.Errorf("subscription %d: %w", sub.ID, err)
	}
	if sub.Threshold, err = decimal.NewFromString(th); err != nil {
		return Subscription{}, fmt.Errorf("subscription %d threshold: %w", sub.ID, err)
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return sub, nil
}

func filterClause(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Platform != "" {
		conds = append(conds, "platform = ?")
		args = append(args, string(f.Platform))
	}
	if !f.Recipient.IsZero() {
		conds = append(conds, "recipient = ?")
		args = append(args, f.Recipient.String())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
