package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// QueryName is the name the report query is registered under.
const QueryName = "ReportQuery"

// Conn is a live database connection owned by one render call.
// *sql.Conn wrapped with its driver name satisfies it.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Driver() string
	Close() error
}

// ConnectionProvider hands out connections for data source ids.
type ConnectionProvider interface {
	GetConnection(ctx context.Context, dataSourceID uint) (Conn, error)
}

// DataBinding is a named query over a connection, attached to one render call.
// Release must be called on every exit path once Resolve returned it.
type DataBinding struct {
	Name         string
	DataSourceID uint

	conn     Conn
	query    string
	stmt     string
	args     []any
	limit    int
	released bool
}

// SetLimit caps the number of rows the query returns. Zero or less means no cap.
func (b *DataBinding) SetLimit(n int) {
	b.limit = n
}

// Limit returns the configured row cap, zero when uncapped.
func (b *DataBinding) Limit() int {
	return b.limit
}

// Query returns the query as registered, before parameter substitution.
func (b *DataBinding) Query() string {
	return b.query
}

// bindParameters rewrites ${name} tokens into driver placeholders and
// collects the matching arguments from params.
func (b *DataBinding) bindParameters(params map[string]any) error {
	var (
		args    []any
		missing []string
	)
	postgres := b.conn.Driver() == "postgres"

	stmt := tokenPattern.ReplaceAllStringFunc(b.query, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
		}
		args = append(args, v)
		if postgres {
			return "$" + strconv.Itoa(len(args))
		}
		return "?"
	})
	if len(missing) > 0 {
		return fmt.Errorf("query parameters without value: %s", strings.Join(missing, ", "))
	}

	b.stmt = stmt
	b.args = args
	return nil
}

// Open executes the bound query and returns a cursor over its rows.
func (b *DataBinding) Open(ctx context.Context) (RowSource, error) {
	if b.released {
		return nil, errors.New("data binding already released")
	}
	stmt := b.stmt
	if stmt == "" {
		stmt = b.query
	}
	rows, err := b.conn.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", b.Name, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("read columns of %s: %w", b.Name, err)
	}
	return &sqlRowSource{rows: rows, columns: cols, limit: b.limit}, nil
}

// Release returns the connection to its pool. Calling it twice is a no-op.
func (b *DataBinding) Release() error {
	if b.released {
		return nil
	}
	b.released = true
	return b.conn.Close()
}

// Resolver acquires connections and builds data bindings.
type Resolver struct {
	conns  ConnectionProvider
	logger *logrus.Logger
}

// NewResolver creates a data binding resolver.
func NewResolver(conns ConnectionProvider, logger *logrus.Logger) *Resolver {
	return &Resolver{conns: conns, logger: logger}
}

// Resolve returns the binding for ref, or nil when the report has no data source.
func (r *Resolver) Resolve(ctx context.Context, ref ReportRef, doc *Document) (*DataBinding, error) {
	if ref.DataSourceID == nil {
		return nil, nil
	}

	query := ref.Query
	if strings.TrimSpace(query) == "" {
		query = doc.Query
	}
	if strings.TrimSpace(query) == "" {
		return nil, newError(KindDataBinding, "register query", errors.New("report has a data source but no query"))
	}
	if err := validateQuery(query); err != nil {
		return nil, newError(KindDataBinding, "register query", err)
	}

	if r.conns == nil {
		return nil, newError(KindDataBinding, "get connection", errors.New("no connection provider configured"))
	}
	conn, err := r.conns.GetConnection(ctx, *ref.DataSourceID)
	if err != nil {
		return nil, newError(KindDataBinding, "get connection", err)
	}

	r.logger.WithFields(logrus.Fields{
		"report":      ref.Name,
		"data_source": *ref.DataSourceID,
		"driver":      conn.Driver(),
	}).Debug("connection acquired")

	return &DataBinding{
		Name:         QueryName,
		DataSourceID: *ref.DataSourceID,
		conn:         conn,
		query:        query,
	}, nil
}

var (
	forbiddenStatement = regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|INSERT|CREATE|ALTER|TRUNCATE|GRANT)\b`)
	// string literals, quoted identifiers and comments
	quotedSQL = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"|--[^\n]*|/\*[\s\S]*?\*/`)
)

// validateQuery rejects statements that modify data. Keywords inside
// literals, quoted identifiers and comments are ignored.
func validateQuery(sql string) error {
	if m := forbiddenStatement.FindString(quotedSQL.ReplaceAllString(sql, " ")); m != "" {
		return fmt.Errorf("forbidden operation: %s", strings.ToUpper(m))
	}
	return nil
}
