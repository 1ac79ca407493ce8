package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/xaenox/sparkgen/internal/models"
	"modernc.org/sqlite"
)

var (
	//go:embed schema.sql
	schema string
	//go:embed schema_mysql.sql
	schemaMySQL string
)

// SQLite's LOWER folds ASCII only. unicode_lower matches strings.ToLower,
// which the other stores use for search.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("unicode_lower", 1, unicodeLower)
}

func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	case nil:
		return nil, nil
	default:
		return v, nil
	}
}

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// MySQLDSN formats the config for go-sql-driver/mysql.
func (c DatabaseConfig) MySQLDSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.DBName
	if c.SSLMode != "" && c.SSLMode != "disable" {
		mc.TLSConfig = "true"
	}
	return mc.FormatDSN()
}

// SQLStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound for postgres; the few statements MySQL spells
// differently branch on dialect.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteStore opens (or creates) messages.sqlite under dataDir.
func NewSQLiteStore(dataDir string) (*SQLStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "messages.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// one writer; WAL lets readers proceed
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return newSQLStore(db, DialectSQLite)
}

func NewPostgresStore(config DatabaseConfig) (*SQLStore, error) {
	return OpenPostgres(config.ConnString())
}

// OpenPostgres accepts either a URL or a key=value connection string.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}
	return newSQLStore(db, DialectPostgres)
}

func NewMySQLStore(config DatabaseConfig) (*SQLStore, error) {
	return OpenMySQL(config.MySQLDSN())
}

func OpenMySQL(dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}
	return newSQLStore(db, DialectMySQL)
}

func newSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	ddl := schema
	if dialect == DialectMySQL {
		ddl = schemaMySQL
	}
	for _, stmt := range splitStatements(ddl) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("error initializing database schema: %w", err)
		}
	}
	return s, nil
}

// splitStatements breaks a schema file on ";". The schema files contain no
// string literals with semicolons.
func splitStatements(ddl string) []string {
	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func withLimit(query string, limit int) string {
	if limit > 0 {
		return query + " LIMIT " + strconv.Itoa(limit)
	}
	return query
}

func (s *SQLStore) Save(ctx context.Context, msg *models.GeneratedMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	snapshot, err := json.Marshal(msg.Context)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.upsertMessage(),
		msg.ID,
		msg.Content,
		string(msg.Category),
		string(msg.Tone),
		int(msg.Impact),
		string(snapshot),
		string(msg.Origin),
		msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("error saving message: %w", err)
	}
	return nil
}

func (s *SQLStore) upsertMessage() string {
	insert := `
		INSERT INTO messages (id, content, category, tone, impact, context, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.dialect == DialectMySQL {
		return insert + `
		ON DUPLICATE KEY UPDATE
			content = VALUES(content),
			category = VALUES(category),
			tone = VALUES(tone),
			impact = VALUES(impact),
			context = VALUES(context),
			origin = VALUES(origin),
			created_at = VALUES(created_at)`
	}
	return insert + `
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			category = excluded.category,
			tone = excluded.tone,
			impact = excluded.impact,
			context = excluded.context,
			origin = excluded.origin,
			created_at = excluded.created_at`
}

const messageColumns = `id, content, category, tone, impact, context, origin, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.GeneratedMessage, error) {
	var (
		msg      models.GeneratedMessage
		category string
		tone     string
		impact   int
		snapshot string
		origin   string
		created  int64
	)
	if err := row.Scan(&msg.ID, &msg.Content, &category, &tone, &impact, &snapshot, &origin, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(snapshot), &msg.Context); err != nil {
		return nil, fmt.Errorf("corrupt context for %s: %w", msg.ID, err)
	}
	msg.Category = models.Category(category)
	msg.Tone = models.Tone(tone)
	msg.Impact = models.Impact(impact)
	msg.Origin = models.Origin(origin)
	msg.CreatedAt = time.Unix(0, created)
	return &msg, nil
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]*models.GeneratedMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]*models.GeneratedMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.GeneratedMessage, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading message: %w", err)
	}
	return msg, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM favorites WHERE message_id = ?`), id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE id = ?`), id)
		return err
	})
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	var now bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM messages WHERE id = ?`), id).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM favorites WHERE message_id = ?`), id)
		if err != nil {
			return err
		}
		removed, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("error getting rows affected: %w", err)
		}
		if removed > 0 {
			return nil
		}
		now = true
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO favorites (message_id, created_at) VALUES (?, ?)`), id, time.Now().UnixNano())
		return err
	})
	return now, err
}

func (s *SQLStore) IsFavorite(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM favorites WHERE message_id = ?`), id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("error checking favorite: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) LoadFavorites(ctx context.Context, limit int) ([]*models.GeneratedMessage, error) {
	return s.query(ctx, withLimit(`
		SELECT m.id, m.content, m.category, m.tone, m.impact, m.context, m.origin, m.created_at
		FROM messages m
		JOIN favorites f ON f.message_id = m.id
		ORDER BY m.created_at DESC, m.id DESC`, limit))
}

func (s *SQLStore) LoadRecent(ctx context.Context, limit int) ([]*models.GeneratedMessage, error) {
	return s.query(ctx, withLimit(`
		SELECT `+messageColumns+`
		FROM messages
		ORDER BY created_at DESC, id DESC`, limit))
}

func (s *SQLStore) LoadByCategory(ctx context.Context, category models.Category, limit int) ([]*models.GeneratedMessage, error) {
	return s.query(ctx, withLimit(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE category = ?
		ORDER BY created_at DESC, id DESC`, limit), string(category))
}

// "!" is the LIKE escape character in every dialect.
var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

// Search matches content with LIKE. Labels are not stored, so the categories
// and tones whose labels match are resolved here and passed as values.
func (s *SQLStore) Search(ctx context.Context, query string, limit int) ([]*models.GeneratedMessage, error) {
	needle := normalizeQuery(query)
	if needle == "" {
		return s.LoadRecent(ctx, limit)
	}

	lower := "LOWER"
	if s.dialect == DialectSQLite {
		lower = "unicode_lower"
	}
	conds := []string{lower + `(content) LIKE ? ESCAPE '!'`}
	args := []any{"%" + likeEscaper.Replace(needle) + "%"}
	for _, c := range models.AllCategories() {
		if strings.Contains(strings.ToLower(c.Label()), needle) {
			conds = append(conds, "category = ?")
			args = append(args, string(c))
		}
	}
	for _, t := range models.AllTones() {
		if strings.Contains(strings.ToLower(t.Label()), needle) {
			conds = append(conds, "tone = ?")
			args = append(args, string(t))
		}
	}

	return s.query(ctx, withLimit(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+strings.Join(conds, " OR ")+`
		ORDER BY created_at DESC, id DESC`, limit), args...)
}

func (s *SQLStore) SaveGenerationRecord(ctx context.Context, rec *models.GenerationRecord) error {
	query := `
		INSERT INTO generation_records
			(id, category, time_of_day, had_context, had_occasion, message_count, average_impact, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		rec.ID,
		string(rec.Category),
		string(rec.TimeOfDay),
		rec.HadContext,
		rec.HadOccasion,
		rec.MessageCount,
		int(rec.AverageImpact),
		string(rec.Origin),
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("error saving generation record: %w", err)
	}
	return nil
}

func (s *SQLStore) Statistics(ctx context.Context) (*models.StorageStatistics, error) {
	stats := &models.StorageStatistics{CategoryCounts: make(map[models.Category]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		stats.Observe(msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM favorites f
		JOIN messages m ON m.id = f.message_id`).Scan(&stats.FavoriteCount)
	if err != nil {
		return nil, fmt.Errorf("error counting favorites: %w", err)
	}

	var records int
	var produced sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(message_count) FROM generation_records`).Scan(&records, &produced)
	if err != nil {
		return nil, fmt.Errorf("error aggregating generation records: %w", err)
	}
	stats.ObserveRecords(records, int(produced.Int64))
	return stats, nil
}

func (s *SQLStore) Optimize(ctx context.Context, retention Retention) (*OptimizeReport, error) {
	report := &OptimizeReport{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM favorites
			WHERE message_id NOT IN (SELECT id FROM messages)`)
		if err != nil {
			return fmt.Errorf("error removing orphaned favorites: %w", err)
		}
		report.OrphanedFavorites = affected(result)

		if retention.MaxAge > 0 {
			cutoff := time.Now().Add(-retention.MaxAge).UnixNano()
			result, err := tx.ExecContext(ctx, s.rebind(`
				DELETE FROM messages
				WHERE created_at < ?
				AND id NOT IN (SELECT message_id FROM favorites)`), cutoff)
			if err != nil {
				return fmt.Errorf("error expiring messages: %w", err)
			}
			report.ExpiredMessages = affected(result)
		}

		if retention.MaxMessages > 0 {
			var total int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&total); err != nil {
				return err
			}
			if excess := total - retention.MaxMessages; excess > 0 {
				result, err := tx.ExecContext(ctx, s.trimOldest(), excess)
				if err != nil {
					return fmt.Errorf("error trimming messages: %w", err)
				}
				report.TrimmedMessages = affected(result)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// trimOldest deletes the n oldest non-favorite messages. MySQL cannot LIMIT
// a subquery on the table being deleted from, but it can order a DELETE.
func (s *SQLStore) trimOldest() string {
	if s.dialect == DialectMySQL {
		return `
			DELETE FROM messages
			WHERE id NOT IN (SELECT message_id FROM favorites)
			ORDER BY created_at ASC, id ASC
			LIMIT ?`
	}
	return s.rebind(`
		DELETE FROM messages WHERE id IN (
			SELECT id FROM messages
			WHERE id NOT IN (SELECT message_id FROM favorites)
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		)`)
}

func affected(result sql.Result) int {
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

func (s *SQLStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ts := cutoff.UnixNano()
		_, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM favorites
			WHERE message_id IN (SELECT id FROM messages WHERE created_at < ?)`), ts)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE created_at < ?`), ts)
		if err != nil {
			return err
		}
		removed = affected(result)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error cleaning up messages: %w", err)
	}
	return removed, nil
}

func (s *SQLStore) ClearAll(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"favorites", "messages", "generation_records"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("error clearing %s: %w", table, err)
			}
		}
		return nil
	})
}
