// Package database implements query_database, a read-only SQL builtin used to
// ground feature ideas in product data.
//
// Only single SELECT, EXPLAIN, SHOW, DESCRIBE or WITH statements run. Each
// query has a timeout and a row cap, and the connection is separate from the
// ideaflow store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/jkaninda/ideaflow/internal/tools"
)

const (
	defaultDriver     = "pgx"
	defaultMaxRows    = 200
	defaultTimeoutSec = 15
	maxCellChars      = 500
)

var writePrefixes = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "DROP", "ALTER", "CREATE",
	"TRUNCATE", "GRANT", "REVOKE", "COPY", "VACUUM", "REINDEX",
	"COMMENT", "LOCK", "DISCARD", "SET ", "RESET", "BEGIN",
	"COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE", "PREPARE",
	"EXECUTE", "DEALLOCATE", "LISTEN", "NOTIFY", "UNLISTEN",
	"LOAD", "CLUSTER", "REFRESH", "CALL", "DO ",
}

var readPrefixes = []string{"SELECT", "EXPLAIN", "SHOW", "DESCRIBE", "WITH"}

// Config holds database tool settings.
type Config struct {
	Driver         string // database/sql driver name; default "pgx".
	DSN            string
	MaxRows        int
	TimeoutSeconds int
}

// Tool runs read-only queries. The connection opens on first use.
type Tool struct {
	config Config
	logger *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

var _ tools.Tool = (*Tool)(nil)

func NewTool(cfg Config, logger *slog.Logger) *Tool {
	if cfg.Driver == "" {
		cfg.Driver = defaultDriver
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSec
	}
	return &Tool{config: cfg, logger: logger}
}

// NewToolWithDB creates a tool over an already opened pool.
func NewToolWithDB(db *sql.DB, cfg Config, logger *slog.Logger) *Tool {
	t := NewTool(cfg, logger)
	t.db = db
	return t
}

func (t *Tool) Name() string { return "query_database" }
func (t *Tool) Description() string {
	return "Run a read-only SQL query (SELECT, EXPLAIN, SHOW, WITH) against the product database"
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":    map[string]any{"type": "string", "description": "A single read-only SQL statement"},
			"max_rows": map[string]any{"type": "integer", "minimum": 1, "description": "Maximum rows to return"},
		},
		"required": []any{"query"},
	}
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	query, err := tools.StringParam(params, "query")
	if err != nil {
		return nil, err
	}
	if err := ValidateReadOnly(query); err != nil {
		return nil, err
	}

	db, err := t.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}

	maxRows := min(tools.IntParam(params, "max_rows", t.config.MaxRows), t.config.MaxRows)
	if maxRows <= 0 {
		maxRows = t.config.MaxRows
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.config.TimeoutSeconds)*time.Second)
	defer cancel()

	t.logger.InfoContext(ctx, "query_database executing",
		slog.String("query", abbreviate(query, 100)),
		slog.Int("max_rows", maxRows),
	)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	defer rows.Close()

	out, n, truncated, err := formatRows(rows, maxRows)
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(out, tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"rows":      n,
			"truncated": truncated,
		},
	}, nil
}

// Close releases the connection pool.
func (t *Tool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	return err
}

func (t *Tool) conn(ctx context.Context) (*sql.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		return t.db, nil
	}
	if t.config.DSN == "" {
		return nil, fmt.Errorf("database DSN not configured")
	}

	db, err := sql.Open(t.config.Driver, t.config.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	t.db = db
	return db, nil
}

// ValidateReadOnly rejects anything but a single read statement.
func ValidateReadOnly(query string) error {
	stmt := stripLeadingComments(query)
	if stmt == "" {
		return fmt.Errorf("query must not be empty")
	}
	upper := strings.ToUpper(stmt)

	for _, p := range writePrefixes {
		if strings.HasPrefix(upper, p) {
			return fmt.Errorf("query blocked: %s statements are not allowed (read-only)", strings.TrimSpace(p))
		}
	}
	allowed := false
	for _, p := range readPrefixes {
		if strings.HasPrefix(upper, p) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("query must start with one of: %s", strings.Join(readPrefixes, ", "))
	}
	if strings.Contains(strings.TrimRight(stmt, "; \t\r\n"), ";") {
		return fmt.Errorf("multiple statements not allowed")
	}
	return nil
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.Index(s, "\n")
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			return s
		}
	}
}

// formatRows renders rows as a markdown table.
func formatRows(rows *sql.Rows, maxRows int) (string, int, bool, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", 0, false, fmt.Errorf("getting columns: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")

	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}

	n, truncated := 0, false
	for rows.Next() {
		if n >= maxRows {
			truncated = true
			break
		}
		if err := rows.Scan(dest...); err != nil {
			return "", n, false, fmt.Errorf("scanning row %d: %w", n, err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatValue(v)
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		n++
	}
	if err := rows.Err(); err != nil {
		return "", n, false, fmt.Errorf("iterating rows: %w", err)
	}

	switch {
	case n == 0:
		sb.WriteString("\n(no rows returned)\n")
	case truncated:
		fmt.Fprintf(&sb, "\n... [results truncated at %d rows]\n", maxRows)
	}
	return sb.String(), n, truncated, nil
}

func formatValue(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		s = string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		s = fmt.Sprint(val)
	}
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return abbreviate(s, maxCellChars)
}

func abbreviate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
