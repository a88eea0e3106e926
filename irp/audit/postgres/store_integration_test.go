//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alapierre/go-irp-client/irp/audit"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("irp"),
		tcpostgres.WithUsername("irp"),
		tcpostgres.WithPassword("irp"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, WithTable("irp_audit"))
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx), "schema creation must be repeatable")
	return s
}

func TestStore_AppendAndList(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	irn := "a5c12dca80e743321740b001fd70953e8738d109865d28ba4013750f2046f229"
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	generated := audit.Entry{
		ID:             uuid.New(),
		Operation:      audit.OpGenerate,
		IRN:            irn,
		DocumentType:   "INV",
		DocumentNumber: "INV/2024/0001",
		DocumentDate:   "05/03/2024",
		Outcome:        audit.OutcomeSuccess,
		Request:        json.RawMessage(`{"DocDtls":{"No":"INV/2024/0001"}}`),
		Response:       json.RawMessage(`{"ackNo":112410000000001}`),
		Timestamp:      at,
	}
	cancelled := audit.Entry{
		ID:          uuid.New(),
		Operation:   audit.OpCancel,
		IRN:         irn,
		Outcome:     audit.OutcomeError,
		ErrorKind:   "business",
		ErrorDetail: "cancel window expired",
		Timestamp:   at.Add(25 * time.Hour),
	}
	require.NoError(t, s.Append(ctx, generated))
	require.NoError(t, s.Append(ctx, cancelled))
	require.NoError(t, s.Append(ctx, generated), "duplicate id is ignored")

	got, err := s.ListByIRN(ctx, irn)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, generated.ID, got[0].ID)
	assert.Equal(t, audit.OpGenerate, got[0].Operation)
	assert.Equal(t, "INV/2024/0001", got[0].DocumentNumber)
	assert.JSONEq(t, string(generated.Response), string(got[0].Response))
	assert.True(t, at.Equal(got[0].Timestamp))

	assert.Equal(t, audit.OutcomeError, got[1].Outcome)
	assert.Equal(t, "business", got[1].ErrorKind)
	assert.Empty(t, got[1].Request)
}

func TestStore_AppendFillsMissingIdentity(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, audit.Entry{Operation: audit.OpFetch, IRN: "x", Outcome: audit.OutcomeSuccess}))
	got, err := s.ListByIRN(ctx, "x")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEqual(t, uuid.Nil, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestStore_SchemaQualifiedTable(t *testing.T) {
	base := startPostgres(t)
	ctx := context.Background()

	_, err := base.db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS registry`)
	require.NoError(t, err)

	s := New(base.db, WithTable("registry.audit_entries"))
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.Append(ctx, audit.Entry{Operation: audit.OpFetch, IRN: "y", Outcome: audit.OutcomeSuccess}))

	var n int
	require.NoError(t, base.db.QueryRowContext(ctx,
		`SELECT count(*) FROM registry.audit_entries WHERE irn = 'y'`).Scan(&n))
	assert.Equal(t, 1, n)

	got, err := base.ListByIRN(ctx, "y")
	require.NoError(t, err)
	assert.Empty(t, got, "the default-schema table is untouched")
}
