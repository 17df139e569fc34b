// Package sqlite provides a SQLite-backed match store. Conditional updates
// are a compare-and-swap on the row version inside an immediate
// transaction, retried from a fresh read when another writer won.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/adapters/repository/sqlite/migrations"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/metrics"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const driver = "sqlite"

var errVersionConflict = errors.New("version conflict")

// Store persists matches in SQLite.
type Store struct {
	sqlDB   *sql.DB
	retries int
	now     func() time.Time
}

var _ repository.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite match store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{sqlDB: sqlDB, retries: 5, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func applyMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}
	databaseDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "matchpoint", databaseDriver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create implements repository.Store.
func (s *Store) Create(ctx context.Context, m model.Match) (model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return model.Match{}, err
	}
	m, err := repository.Prepare(m, s.now())
	if err != nil {
		return model.Match{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return model.Match{}, classify("begin create", err)
	}
	defer func() { _ = tx.Rollback() }()

	imagery, err := encodeImagery(m.Imagery)
	if err != nil {
		return model.Match{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO matches (
		   id, title, sport, datetime, lat, lng, capacity, host,
		   min_age, max_age, gender, status, description, imagery,
		   visibility, version, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Sport, toMillis(m.Datetime), m.Location.Lat, m.Location.Lng, m.Capacity, m.Host,
		m.Eligibility.MinAge, m.Eligibility.MaxAge, string(m.Eligibility.Gender), string(m.Status),
		m.Description, imagery, string(m.Visibility), m.Version, toMillis(m.CreatedAt), toMillis(m.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Match{}, repository.ErrAlreadyExists
		}
		return model.Match{}, classify("create match", err)
	}
	if err := writeParticipants(ctx, tx, m); err != nil {
		return model.Match{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Match{}, classify("commit create", err)
	}

	metrics.UpdateMatchesTotal(s.Count(ctx))
	return m, nil
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, id string) (model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return model.Match{}, err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(driver, float64(time.Since(start).Microseconds())/1000)
	}()
	return loadMatch(ctx, s.sqlDB, id)
}

// ConditionalUpdate implements repository.Store.
func (s *Store) ConditionalUpdate(ctx context.Context, id string, pred repository.Predicate, mut repository.Mutation) (model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return model.Match{}, err
	}
	start := time.Now()
	result := "applied"
	defer func() {
		metrics.RecordStoreUpdateLatency(driver, result, float64(time.Since(start).Microseconds())/1000)
	}()

	for attempt := 0; ; attempt++ {
		next, err := s.tryUpdate(ctx, id, pred, mut)
		switch {
		case err == nil:
			return next, nil
		case errors.Is(err, errVersionConflict):
			if attempt >= s.retries {
				result = "exhausted"
				return model.Match{}, fmt.Errorf("%w: compare-and-swap retries exhausted for %s", repository.ErrTransient, id)
			}
			metrics.RecordStoreCASRetry(driver)
		case errors.Is(err, repository.ErrNotApplied):
			result = "not_applied"
			return model.Match{}, err
		case errors.Is(err, repository.ErrNotFound):
			result = "not_found"
			return model.Match{}, err
		default:
			result = "error"
			return model.Match{}, err
		}
	}
}

func (s *Store) tryUpdate(ctx context.Context, id string, pred repository.Predicate, mut repository.Mutation) (model.Match, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return model.Match{}, classify("begin update", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := loadMatch(ctx, tx, id)
	if err != nil {
		return model.Match{}, err
	}
	next, err := repository.Apply(current, pred, mut, s.now())
	if err != nil {
		return model.Match{}, err
	}

	imagery, err := encodeImagery(next.Imagery)
	if err != nil {
		return model.Match{}, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE matches
		    SET title = ?, sport = ?, datetime = ?, lat = ?, lng = ?, capacity = ?,
		        min_age = ?, max_age = ?, gender = ?, status = ?, description = ?,
		        imagery = ?, visibility = ?, version = ?, updated_at = ?
		  WHERE id = ? AND version = ?`,
		next.Title, next.Sport, toMillis(next.Datetime), next.Location.Lat, next.Location.Lng, next.Capacity,
		next.Eligibility.MinAge, next.Eligibility.MaxAge, string(next.Eligibility.Gender), string(next.Status),
		next.Description, imagery, string(next.Visibility), next.Version, toMillis(next.UpdatedAt),
		id, current.Version,
	)
	if err != nil {
		return model.Match{}, classify("update match", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return model.Match{}, classify("update match", err)
	}
	if rows == 0 {
		return model.Match{}, errVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE match_id = ?`, id); err != nil {
		return model.Match{}, classify("clear participants", err)
	}
	if err := writeParticipants(ctx, tx, next); err != nil {
		return model.Match{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Match{}, classify("commit update", err)
	}
	return next, nil
}

// Query implements repository.Store. The geo prefilter runs on the indexed
// lat/lng columns; exact distances are then checked in process.
func (s *Store) Query(ctx context.Context, q repository.Query) ([]model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(driver, float64(time.Since(start).Microseconds())/1000)
	}()

	var where []string
	var args []any
	if q.Status != "" {
		where = append(where, "m.status = ?")
		args = append(args, string(q.Status))
	}
	if !q.After.IsZero() {
		where = append(where, "m.datetime > ?")
		args = append(args, toMillis(q.After))
	}
	if q.Sport != "" {
		where = append(where, "m.sport = ?")
		args = append(args, q.Sport)
	}
	if q.Near != nil {
		box := geo.BoundingBox(*q.Near, q.RadiusMeters)
		where = append(where, "m.lat BETWEEN ? AND ?")
		args = append(args, box.MinLat, box.MaxLat)
		if box.WrapsAntimeridian() {
			where = append(where, "(m.lng >= ? OR m.lng <= ?)")
		} else {
			where = append(where, "m.lng BETWEEN ? AND ?")
		}
		args = append(args, box.MinLng, box.MaxLng)
	}

	query := selectMatches
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY m.id, p.position"

	matches, err := scanMatches(ctx, s.sqlDB, query, args...)
	if err != nil {
		return nil, err
	}
	if q.Near == nil {
		return matches, nil
	}
	out := matches[:0]
	for _, m := range matches {
		if geo.Distance(*q.Near, m.Location) <= q.RadiusMeters {
			out = append(out, m)
		}
	}
	return out, nil
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context) int {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n); err != nil {
		return 0
	}
	return n
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const selectMatches = `SELECT m.id, m.title, m.sport, m.datetime, m.lat, m.lng, m.capacity, m.host,
       m.min_age, m.max_age, m.gender, m.status, m.description, m.imagery,
       m.visibility, m.version, m.created_at, m.updated_at,
       p.user_id, p.joined_at
  FROM matches m
  LEFT JOIN participants p ON p.match_id = m.id`

func loadMatch(ctx context.Context, q queryer, id string) (model.Match, error) {
	matches, err := scanMatches(ctx, q, selectMatches+" WHERE m.id = ? ORDER BY p.position", id)
	if err != nil {
		return model.Match{}, err
	}
	if len(matches) == 0 {
		return model.Match{}, repository.ErrNotFound
	}
	return matches[0], nil
}

// scanMatches reads match rows joined with their participants in one
// statement, so each result is a consistent snapshot. Rows must be ordered
// by match id.
func scanMatches(ctx context.Context, q queryer, query string, args ...any) ([]model.Match, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query matches", err)
	}
	defer rows.Close()

	var out []model.Match
	for rows.Next() {
		var (
			m                          model.Match
			datetime, created, updated int64
			gender, status, visibility string
			imagery                    string
			userID                     sql.NullString
			joinedAt                   sql.NullInt64
		)
		if err := rows.Scan(
			&m.ID, &m.Title, &m.Sport, &datetime, &m.Location.Lat, &m.Location.Lng, &m.Capacity, &m.Host,
			&m.Eligibility.MinAge, &m.Eligibility.MaxAge, &gender, &status, &m.Description, &imagery,
			&visibility, &m.Version, &created, &updated,
			&userID, &joinedAt,
		); err != nil {
			return nil, classify("scan match", err)
		}

		if n := len(out); n == 0 || out[n-1].ID != m.ID {
			m.Datetime = fromMillis(datetime)
			m.CreatedAt = fromMillis(created)
			m.UpdatedAt = fromMillis(updated)
			m.Eligibility.Gender = model.Gender(gender)
			m.Status = model.Status(status)
			m.Visibility = model.Visibility(visibility)
			m.Participants = []model.Participant{}
			if err := json.Unmarshal([]byte(imagery), &m.Imagery); err != nil {
				return nil, fmt.Errorf("decode imagery of %s: %w", m.ID, err)
			}
			out = append(out, m)
		}
		if userID.Valid {
			last := &out[len(out)-1]
			last.Participants = append(last.Participants, model.Participant{
				UserID:   userID.String,
				JoinedAt: fromMillis(joinedAt.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate matches", err)
	}
	return out, nil
}

func writeParticipants(ctx context.Context, tx *sql.Tx, m model.Match) error {
	for i, p := range m.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (match_id, user_id, position, joined_at) VALUES (?, ?, ?, ?)`,
			m.ID, p.UserID, i, toMillis(p.JoinedAt),
		); err != nil {
			return classify("insert participant", err)
		}
	}
	return nil
}

func encodeImagery(imagery []string) (string, error) {
	if imagery == nil {
		imagery = []string{}
	}
	b, err := json.Marshal(imagery)
	if err != nil {
		return "", fmt.Errorf("encode imagery: %w", err)
	}
	return string(b), nil
}

// classify maps driver errors onto store kinds: lock contention becomes a
// retryable version conflict, everything else is transient.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", repository.ErrTransient, op, err)
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %w", op, errVersionConflict, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", repository.ErrTransient, op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
