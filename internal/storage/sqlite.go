package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "casewatch/pkg/logx"

	"casewatch/internal/hearing"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeFormat = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- settings ----

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) PutSetting(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if key == "" {
		return errors.New("setting key is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().Format(timeFormat),
	)
	return err
}

func (s *sqliteStore) Settings(ctx context.Context) (NotifySettings, error) {
	var out NotifySettings

	enabled, ok, err := s.GetSetting(ctx, SettingNotifyEnabled)
	if err != nil {
		return out, err
	}
	if ok {
		out.Enabled = parseBoolSetting(enabled)
	}
	if out.Recipient, _, err = s.GetSetting(ctx, SettingNotifyRecipient); err != nil {
		return out, err
	}
	if out.Sender, _, err = s.GetSetting(ctx, SettingNotifySender); err != nil {
		return out, err
	}
	out.Recipient = strings.TrimSpace(out.Recipient)
	out.Sender = strings.TrimSpace(out.Sender)
	return out, nil
}

func parseBoolSetting(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ---- cases ----

func (s *sqliteStore) ListCases(ctx context.Context) ([]CaseRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plaintiff, defendant, COALESCE(first_instance_hearing, ''), COALESCE(appeal_hearing, '')
		 FROM cases ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CaseRecord
	for rows.Next() {
		var c CaseRecord
		if err := rows.Scan(&c.ID, &c.Plaintiff, &c.Defendant, &c.FirstInstanceHearing, &c.AppealHearing); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertCase(ctx context.Context, c CaseRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases(id, plaintiff, defendant, first_instance_hearing, appeal_hearing, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   plaintiff=excluded.plaintiff,
		   defendant=excluded.defendant,
		   first_instance_hearing=excluded.first_instance_hearing,
		   appeal_hearing=excluded.appeal_hearing,
		   updated_at=excluded.updated_at`,
		c.ID, c.Plaintiff, c.Defendant, nullStr(c.FirstInstanceHearing), nullStr(c.AppealHearing),
		time.Now().Format(timeFormat),
	)
	return err
}

// ---- markers ----

func (s *sqliteStore) HasMarker(ctx context.Context, k MarkerKey) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM hearing_markers WHERE case_id = ? AND hearing = ? AND hearing_raw = ?`,
		k.CaseID, string(k.Hearing), k.Timestamp,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) ReserveMarker(ctx context.Context, k MarkerKey, m Marker) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	if k.Hearing != hearing.FirstInstance && k.Hearing != hearing.Appeal {
		return false, fmt.Errorf("invalid hearing type %q", k.Hearing)
	}
	sentAt := m.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO hearing_markers(case_id, hearing, hearing_raw, hearing_at, sent_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(case_id, hearing, hearing_raw) DO NOTHING`,
		k.CaseID, string(k.Hearing), k.Timestamp, m.HearingAt.Format(timeFormat), sentAt.Format(timeFormat),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) ReleaseMarker(ctx context.Context, k MarkerKey) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM hearing_markers WHERE case_id = ? AND hearing = ? AND hearing_raw = ?`,
		k.CaseID, string(k.Hearing), k.Timestamp,
	)
	return err
}

func (s *sqliteStore) PruneMarkers(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM hearing_markers WHERE sent_at < ?`, before.Format(timeFormat))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
