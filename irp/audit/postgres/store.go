// Package postgres is an audit.Sink backed by a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alapierre/go-irp-client/irp/audit"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "irp.audit.postgres")

// DefaultTable is the table entries are written to.
const DefaultTable = "audit_entries"

type Store struct {
	db     *sql.DB
	schema string
	table  string
}

type Option func(*Store)

// WithTable writes to a different table. A "schema.table" name is split on the first dot.
func WithTable(name string) Option {
	return func(s *Store) {
		if schema, table, ok := strings.Cut(name, "."); ok {
			s.schema, s.table = schema, table
			return
		}
		s.schema, s.table = "", name
	}
}

// Open connects with lib/pq and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return db, nil
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) quotedTable() string {
	if s.schema == "" {
		return pq.QuoteIdentifier(s.table)
	}
	return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(s.table)
}

// EnsureSchema creates the table and its lookup indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	t := s.quotedTable()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id              UUID PRIMARY KEY,
			operation       TEXT NOT NULL,
			irn             TEXT,
			document_type   TEXT,
			document_number TEXT,
			document_date   TEXT,
			outcome         TEXT NOT NULL,
			request         JSONB,
			response        JSONB,
			error_kind      TEXT,
			error_detail    TEXT,
			created_at      TIMESTAMPTZ NOT NULL
		)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (irn)`, pq.QuoteIdentifier(s.table+"_irn_idx"), t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (document_type, document_number, document_date)`,
			pq.QuoteIdentifier(s.table+"_doc_idx"), t),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure audit schema")
		}
	}
	return nil
}

// Append inserts e. Re-appending an entry with the same id is a no-op.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, operation, irn, document_type, document_number, document_date,
			outcome, request, response, error_kind, error_detail, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, s.quotedTable())

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		string(e.Operation),
		nullString(e.IRN),
		nullString(e.DocumentType),
		nullString(e.DocumentNumber),
		nullString(e.DocumentDate),
		string(e.Outcome),
		nullJSON(e.Request),
		nullJSON(e.Response),
		nullString(e.ErrorKind),
		nullString(e.ErrorDetail),
		e.Timestamp.UTC(),
	)
	if err != nil {
		logger.WithField("audit_id", e.ID.String()).Errorf("insert failed: %v", err)
		return errors.Wrap(err, "insert audit entry")
	}
	return nil
}

// ListByIRN returns entries mentioning irn, oldest first.
func (s *Store) ListByIRN(ctx context.Context, irn string) ([]audit.Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, operation, irn, document_type, document_number, document_date,
			   outcome, request, response, error_kind, error_detail, created_at
		FROM %s
		WHERE irn = $1
		ORDER BY created_at, id
	`, s.quotedTable())

	rows, err := s.db.QueryContext(ctx, query, irn)
	if err != nil {
		return nil, errors.Wrap(err, "query audit entries")
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e                                       audit.Entry
			op, outcome                             string
			irnCol, docType, docNo, docDt, kind, dt sql.NullString
			req, res                                []byte
		)
		if err := rows.Scan(&e.ID, &op, &irnCol, &docType, &docNo, &docDt,
			&outcome, &req, &res, &kind, &dt, &e.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan audit entry")
		}
		e.Operation = audit.Operation(op)
		e.Outcome = audit.Outcome(outcome)
		e.IRN = irnCol.String
		e.DocumentType = docType.String
		e.DocumentNumber = docNo.String
		e.DocumentDate = docDt.String
		e.Request = req
		e.Response = res
		e.ErrorKind = kind.String
		e.ErrorDetail = dt.String
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate audit entries")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
