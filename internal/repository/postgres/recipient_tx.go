package postgres

import (
	"context"
	"fmt"

	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/repository"
)

// recipientTx executes merge ops inside an open transaction and records every touched row.
type recipientTx struct {
	q       querier
	changes []model.Change
}

var _ repository.RecipientTx = (*recipientTx)(nil)

func (t *recipientTx) record(table string, kind model.ChangeKind, id int64) {
	t.changes = append(t.changes, model.Change{Table: table, Kind: kind, RowID: id})
}

func (t *recipientTx) Lookup(ctx context.Context, c model.Criteria) (model.Matches, error) {
	return lookup(ctx, t.q, c)
}

func (t *recipientTx) Get(ctx context.Context, id int64) (*model.Recipient, error) {
	return getRecipient(ctx, t.q, id, false)
}

// Create inserts a recipient. Uniqueness is checked at commit.
func (t *recipientTx) Create(ctx context.Context, aci *model.ACI, pni *model.PNI, e164 *model.E164) (int64, error) {
	const q = `INSERT INTO recipients (aci, pni, e164) VALUES ($1, $2, $3) RETURNING id`
	var id int64
	if err := t.q.QueryRow(ctx, q, aciArg(aci), pniArg(pni), e164Arg(e164)).Scan(&id); err != nil {
		return 0, mapErr(err)
	}
	t.record(model.TableRecipients, model.ChangeInsert, id)
	return id, nil
}

func (t *recipientTx) SetACI(ctx context.Context, id int64, aci *model.ACI) (int64, error) {
	const q = `UPDATE recipients SET aci = $2, updated_at = now() WHERE id = $1 RETURNING id`
	return t.update(ctx, q, id, aciArg(aci))
}

func (t *recipientTx) SetPNI(ctx context.Context, id int64, pni *model.PNI) (int64, error) {
	const q = `UPDATE recipients SET pni = $2, updated_at = now() WHERE id = $1 RETURNING id`
	return t.update(ctx, q, id, pniArg(pni))
}

func (t *recipientTx) SetE164(ctx context.Context, id int64, e164 *model.E164) (int64, error) {
	const q = `UPDATE recipients SET e164 = $2, updated_at = now() WHERE id = $1 RETURNING id`
	return t.update(ctx, q, id, e164Arg(e164))
}

func (t *recipientTx) update(ctx context.Context, q string, id int64, arg any) (int64, error) {
	var got int64
	if err := t.q.QueryRow(ctx, q, id, arg).Scan(&got); err != nil {
		return 0, fmt.Errorf("recipient %d: %w", id, mapErr(err))
	}
	t.record(model.TableRecipients, model.ChangeUpdate, got)
	return got, nil
}

// collect runs a statement returning ids and records each returned row.
func (t *recipientTx) collect(ctx context.Context, table string, kind model.ChangeKind, sql string, args ...any) (int, error) {
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return n, err
		}
		t.record(table, kind, id)
		n++
	}
	return n, rows.Err()
}
