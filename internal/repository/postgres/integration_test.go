//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/and161185/recipient-keeper/internal/errs"
	"github.com/and161185/recipient-keeper/internal/merge"
	"github.com/and161185/recipient-keeper/internal/migrate"
	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/repository"
)

var testDSN string

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "recipients",
			"POSTGRES_PASSWORD": "recipients",
			"POSTGRES_DB":       "recipients",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	testDSN = fmt.Sprintf("postgres://recipients:recipients@%s:%s/recipients?sslmode=disable", host, port.Port())

	if err := migrate.Up(ctx, testDSN); err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func openDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := New(ctx, testDSN)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	_, err = db.Pool.Exec(ctx, `TRUNCATE calls, receipts, reactions, group_v2_members, group_v1_members,
messages, sessions, recipients RESTART IDENTITY`)
	require.NoError(t, err)
	return db
}

func seed(t *testing.T, db *DB, sql string, args ...any) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.Pool.QueryRow(context.Background(), sql, args...).Scan(&id))
	return id
}

func ident(t *testing.T) (model.ACI, model.PNI, model.E164) {
	t.Helper()
	a, err := model.ParseACI("a0000000-0000-4000-8000-000000000001")
	require.NoError(t, err)
	p, err := model.ParsePNI("b0000000-0000-4000-8000-000000000001")
	require.NoError(t, err)
	return a, p, model.E164("+15550001234")
}

func TestIntegration_MigrationVersion(t *testing.T) {
	v, err := migrate.Version(context.Background(), testDSN)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
}

func TestIntegration_CreateThenResolve(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	a, p, e := ident(t)
	eng := merge.NewEngine(NewRecipientRepo(db))

	req := model.MergeRequest{Criteria: model.Criteria{ACI: &a, PNI: &p, E164: &e}, Trust: model.TrustCertain}
	first, err := eng.MergeAndFetch(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Changed)
	require.Equal(t, e, *first.E164)

	second, err := eng.MergeAndFetch(ctx, req)
	require.NoError(t, err)
	require.False(t, second.Changed)
	require.Equal(t, first.ID, second.ID)
}

func TestIntegration_PniRecordFoldsIntoAccount(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	a, p, e := ident(t)

	aRec := seed(t, db, `INSERT INTO recipients (aci) VALUES ($1) RETURNING id`, a.String())
	pRec := seed(t, db, `INSERT INTO recipients (pni, e164) VALUES ($1, $2) RETURNING id`, p.String(), string(e))
	aSession := seed(t, db, `INSERT INTO sessions (direct_recipient_id) VALUES ($1) RETURNING id`, aRec)
	pSession := seed(t, db, `INSERT INTO sessions (direct_recipient_id) VALUES ($1) RETURNING id`, pRec)
	msg := seed(t, db, `INSERT INTO messages (session_id, sender_recipient_id, body) VALUES ($1, $2, 'hi') RETURNING id`, pSession, pRec)
	seed(t, db, `INSERT INTO messages (session_id, sender_recipient_id, body) VALUES ($1, $2, 'yo') RETURNING id`, aSession, aRec)
	seed(t, db, `INSERT INTO group_v2_members (group_id, recipient_id) VALUES ('g', $1) RETURNING id`, aRec)
	seed(t, db, `INSERT INTO group_v2_members (group_id, recipient_id) VALUES ('g', $1) RETURNING id`, pRec)
	seed(t, db, `INSERT INTO reactions (message_id, author_id, emoji) VALUES ($1, $2, '+1') RETURNING id`, msg, pRec)

	eng := merge.NewEngine(NewRecipientRepo(db))
	res, err := eng.MergeAndFetch(ctx, model.MergeRequest{
		Criteria: model.Criteria{ACI: &a, PNI: &p, E164: &e},
		Trust:    model.TrustCertain,
	})
	require.NoError(t, err)
	require.Equal(t, aRec, res.ID)
	require.Equal(t, p, *res.PNI)
	require.Equal(t, e, *res.E164)

	var n int
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM recipients WHERE id = $1`, pRec).Scan(&n))
	require.Zero(t, n, "source recipient must be deleted")
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE session_id = $1`, aSession).Scan(&n))
	require.Equal(t, 2, n, "messages must land in the surviving session")
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM group_v2_members WHERE group_id = 'g'`).Scan(&n))
	require.Equal(t, 1, n, "duplicate membership must collapse")
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM reactions WHERE author_id = $1`, aRec).Scan(&n))
	require.Equal(t, 1, n)
}

func TestIntegration_DeferredUniqueViolation(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	_, _, e := ident(t)
	repo := NewRecipientRepo(db)

	err := repo.WithTx(ctx, func(tx repository.RecipientTx) error {
		if _, err := tx.Create(ctx, nil, nil, &e); err != nil {
			return err
		}
		// checked at commit, not here
		_, err := tx.Create(ctx, nil, nil, &e)
		return err
	})
	require.True(t, errors.Is(err, errs.ErrAlreadyExists), "got %v", err)

	m, err := repo.Lookup(ctx, model.Criteria{E164: &e})
	require.NoError(t, err)
	require.Nil(t, m.ByE164, "rolled back transaction must leave nothing behind")
}

func TestIntegration_ChangeFeedSeesCommittedMerge(t *testing.T) {
	db := openDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a, _, _ := ident(t)

	sub, err := ChangeFeed{DSN: testDSN}.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close(context.Background())

	eng := merge.NewEngine(NewRecipientRepo(db), merge.WithEventSink(NewPublisher(db)))
	res, err := eng.MergeAndFetch(ctx, model.MergeRequest{Criteria: model.Criteria{ACI: &a}})
	require.NoError(t, err)

	batch, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []model.Change{{Table: model.TableRecipients, Kind: model.ChangeInsert, RowID: res.ID}}, batch)
}
