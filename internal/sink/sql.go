// internal/sink/sql.go
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/harbourline/ingest/pkg/types"
)

// SQLConfig configures a relational sink. Driver may be left empty, in which
// case it is inferred from the DSN.
type SQLConfig struct {
	Driver       string `yaml:"driver,omitempty"`
	DSN          string `yaml:"dsn"`
	RecordsTable string `yaml:"records_table,omitempty"`
	RunsTable    string `yaml:"runs_table,omitempty"`
	CreateTables bool   `yaml:"create_tables,omitempty"`
}

// SQLSink is the relational batch-upsert gateway. It supports the postgres,
// mysql, and sqlite3 drivers with per-dialect conflict clauses.
type SQLSink struct {
	db      *sql.DB
	driver  string
	records string
	runs    string
}

// recordColumns is the fixed column order for scraped record upserts.
var recordColumns = []string{
	"source", "external_id", "kind", "title", "description",
	"starts_at", "ends_at", "timezone", "venue_name", "city",
	"address", "url", "raw", "scraped_at",
}

// NewSQLSink opens the database, verifies connectivity, and optionally
// creates the schema.
func NewSQLSink(config SQLConfig) (*SQLSink, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("sql sink DSN is required")
	}
	if config.Driver == "" {
		config.Driver = inferDriver(config.DSN)
	}
	if config.RecordsTable == "" {
		config.RecordsTable = "scraped_records"
	}
	if config.RunsTable == "" {
		config.RunsTable = "job_runs"
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", config.Driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", config.Driver, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLSink{
		db:      db,
		driver:  config.Driver,
		records: config.RecordsTable,
		runs:    config.RunsTable,
	}
	if config.CreateTables {
		if err := s.createTables(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// inferDriver picks a driver from the DSN shape: URL-style postgres DSNs,
// file-path sqlite DSNs, everything else mysql.
func inferDriver(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"), dsn == ":memory:":
		return "sqlite3"
	default:
		return "mysql"
	}
}

// UpsertBatch writes the whole batch as one multi-row INSERT with a
// per-dialect conflict clause on (source, external_id). All-or-nothing:
// the statement runs inside a single implicit transaction.
func (s *SQLSink) UpsertBatch(ctx context.Context, records []types.ScrapedRecord) error {
	if len(records) == 0 {
		return nil
	}

	var query strings.Builder
	query.WriteString("INSERT INTO ")
	query.WriteString(s.records)
	query.WriteString(" (")
	query.WriteString(strings.Join(recordColumns, ", "))
	query.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(records)*len(recordColumns))
	for i, record := range records {
		if i > 0 {
			query.WriteString(", ")
		}
		query.WriteString(s.placeholderRow(i))
		args = append(args,
			record.Source, record.ExternalID, string(record.Kind),
			nullString(record.Title), nullString(record.Description),
			nullTime(record.StartsAt), nullTime(record.EndsAt),
			nullString(record.Timezone), nullString(record.VenueName),
			nullString(record.City), nullString(record.Address),
			nullString(record.URL), nullString(string(record.Raw)),
			record.ScrapedAt,
		)
	}
	query.WriteString(s.conflictClause())

	if _, err := s.db.ExecContext(ctx, query.String(), args...); err != nil {
		return fmt.Errorf("batch upsert of %d records failed: %w", len(records), err)
	}
	return nil
}

// placeholderRow renders one VALUES tuple: $n placeholders for postgres,
// ? for mysql and sqlite.
func (s *SQLSink) placeholderRow(row int) string {
	cols := len(recordColumns)
	parts := make([]string, cols)
	for i := 0; i < cols; i++ {
		if s.driver == "postgres" {
			parts[i] = fmt.Sprintf("$%d", row*cols+i+1)
		} else {
			parts[i] = "?"
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// conflictClause renders the dialect-specific upsert tail.
func (s *SQLSink) conflictClause() string {
	updatable := []string{
		"kind", "title", "description", "starts_at", "ends_at",
		"timezone", "venue_name", "city", "address", "url", "raw", "scraped_at",
	}
	if s.driver == "mysql" {
		assignments := make([]string, len(updatable))
		for i, col := range updatable {
			assignments[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(assignments, ", ")
	}
	// postgres and sqlite share ON CONFLICT syntax
	assignments := make([]string, len(updatable))
	for i, col := range updatable {
		assignments[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return " ON CONFLICT (source, external_id) DO UPDATE SET " + strings.Join(assignments, ", ")
}

// LogJobRun inserts one audit row.
func (s *SQLSink) LogJobRun(ctx context.Context, run types.JobRun) error {
	columns := "id, job_name, started_at, finished_at, status, result"
	var placeholders string
	if s.driver == "postgres" {
		placeholders = "$1, $2, $3, $4, $5, $6"
	} else {
		placeholders = "?, ?, ?, ?, ?, ?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.runs, columns, placeholders)
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.JobName, run.StartedAt, run.FinishedAt,
		string(run.Status), nullString(string(run.Result)))
	if err != nil {
		return fmt.Errorf("job run insert failed: %w", err)
	}
	return nil
}

// createTables creates the records and runs tables when they do not exist.
func (s *SQLSink) createTables() error {
	textType := "TEXT"
	keyType := "TEXT"
	if s.driver == "mysql" {
		// MySQL unique indexes need a bounded key length.
		keyType = "VARCHAR(191)"
	}
	recordsDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	source %s NOT NULL,
	external_id %s NOT NULL,
	kind %s,
	title %s,
	description %s,
	starts_at TIMESTAMP NULL,
	ends_at TIMESTAMP NULL,
	timezone %s,
	venue_name %s,
	city %s,
	address %s,
	url %s,
	raw %s,
	scraped_at TIMESTAMP NOT NULL,
	PRIMARY KEY (source, external_id)
)`, s.records, keyType, keyType, textType, textType, textType,
		textType, textType, textType, textType, textType, textType)

	runsDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s PRIMARY KEY,
	job_name %s NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	status %s NOT NULL,
	result %s
)`, s.runs, keyType, textType, textType, textType)

	for _, ddl := range []string{recordsDDL, runsDDL} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
