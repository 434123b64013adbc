package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/repository"
)

// mergeLockKey is the advisory lock that serializes merge transactions across processes.
const mergeLockKey int64 = 0x7265636970

const selectRecipient = `
SELECT id, aci::text, pni::text, e164, profile_given_name, profile_family_name, is_registered, created_at, updated_at
FROM recipients`

// RecipientRepo implements RecipientRepository using PostgreSQL.
type RecipientRepo struct{ db *DB }

var _ repository.RecipientRepository = (*RecipientRepo)(nil)

// NewRecipientRepo constructs a recipient repository.
func NewRecipientRepo(db *DB) *RecipientRepo { return &RecipientRepo{db: db} }

// Lookup runs the point queries for each supplied identifier.
func (r *RecipientRepo) Lookup(ctx context.Context, c model.Criteria) (model.Matches, error) {
	return lookup(ctx, r.db.Pool, c)
}

// Get selects a recipient by id.
func (r *RecipientRepo) Get(ctx context.Context, id int64) (*model.Recipient, error) {
	return getRecipient(ctx, r.db.Pool, id, false)
}

// WithTx runs fn in a transaction with all constraints deferred to commit and the merge advisory
// lock held. Changes recorded by fn are announced with pg_notify inside the same transaction, so
// listeners only see them once the transaction commits.
func (r *RecipientRepo) WithTx(ctx context.Context, fn func(tx repository.RecipientTx) error) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = mapErr(e)
		}
	}()

	if _, err = tx.Exec(ctx, `SET CONSTRAINTS ALL DEFERRED`); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, mergeLockKey); err != nil {
		return err
	}

	rt := &recipientTx{q: tx}
	if err = fn(rt); err != nil {
		return err
	}
	return publishChanges(ctx, tx, rt.changes)
}

func lookup(ctx context.Context, q querier, c model.Criteria) (model.Matches, error) {
	var (
		m   model.Matches
		err error
	)
	if c.ACI != nil {
		if m.ByACI, err = findOne(ctx, q, selectRecipient+` WHERE aci = $1`, c.ACI.String()); err != nil {
			return model.Matches{}, fmt.Errorf("lookup by aci: %w", err)
		}
	}
	if c.PNI != nil {
		if m.ByPNI, err = findOne(ctx, q, selectRecipient+` WHERE pni = $1`, c.PNI.String()); err != nil {
			return model.Matches{}, fmt.Errorf("lookup by pni: %w", err)
		}
	}
	if c.E164 != nil {
		if m.ByE164, err = findOne(ctx, q, selectRecipient+` WHERE e164 = $1`, string(*c.E164)); err != nil {
			return model.Matches{}, fmt.Errorf("lookup by e164: %w", err)
		}
	}
	return m, nil
}

// findOne returns nil without error when no row matches.
func findOne(ctx context.Context, q querier, sql string, arg any) (*model.Recipient, error) {
	rec, err := scanRecipient(q.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func getRecipient(ctx context.Context, q querier, id int64, forUpdate bool) (*model.Recipient, error) {
	sql := selectRecipient + ` WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rec, err := scanRecipient(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return rec, nil
}

func scanRecipient(row pgx.Row) (*model.Recipient, error) {
	var (
		rec            model.Recipient
		aci, pni, e164 *string
	)
	if err := row.Scan(&rec.ID, &aci, &pni, &e164,
		&rec.ProfileGivenName, &rec.ProfileFamilyName, &rec.IsRegistered, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if aci != nil {
		a, err := model.ParseACI(*aci)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: aci: %w", rec.ID, err)
		}
		rec.ACI = &a
	}
	if pni != nil {
		p, err := model.ParsePNI(*pni)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: pni: %w", rec.ID, err)
		}
		rec.PNI = &p
	}
	if e164 != nil {
		e := model.E164(*e164)
		rec.E164 = &e
	}
	return &rec, nil
}

func aciArg(a *model.ACI) any {
	if a == nil {
		return nil
	}
	return a.String()
}

func pniArg(p *model.PNI) any {
	if p == nil {
		return nil
	}
	return p.String()
}

func e164Arg(e *model.E164) any {
	if e == nil {
		return nil
	}
	return string(*e)
}
