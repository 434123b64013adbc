package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/recipient-keeper/internal/model"
)

// move is one re-keying statement; $1 is the source id and $2 the destination id.
type move struct {
	table string
	kind  model.ChangeKind
	sql   string
}

// Rows that would collide with a row the destination already has are dropped before re-keying.
var (
	membershipMoves = []move{
		{model.TableMessages, model.ChangeUpdate,
			`UPDATE messages SET sender_recipient_id = $2 WHERE sender_recipient_id = $1 RETURNING id`},
		{model.TableGroupV1Members, model.ChangeDelete,
			`DELETE FROM group_v1_members s WHERE s.recipient_id = $1 AND EXISTS (
SELECT 1 FROM group_v1_members d WHERE d.recipient_id = $2 AND d.group_id = s.group_id) RETURNING s.id`},
		{model.TableGroupV1Members, model.ChangeUpdate,
			`UPDATE group_v1_members SET recipient_id = $2 WHERE recipient_id = $1 RETURNING id`},
		{model.TableGroupV2Members, model.ChangeDelete,
			`DELETE FROM group_v2_members s WHERE s.recipient_id = $1 AND EXISTS (
SELECT 1 FROM group_v2_members d WHERE d.recipient_id = $2 AND d.group_id = s.group_id) RETURNING s.id`},
		{model.TableGroupV2Members, model.ChangeUpdate,
			`UPDATE group_v2_members SET recipient_id = $2 WHERE recipient_id = $1 RETURNING id`},
	}
	authorMoves = []move{
		{model.TableReactions, model.ChangeDelete,
			`DELETE FROM reactions s WHERE s.author_id = $1 AND EXISTS (
SELECT 1 FROM reactions d WHERE d.author_id = $2 AND d.message_id = s.message_id) RETURNING s.id`},
		{model.TableReactions, model.ChangeUpdate,
			`UPDATE reactions SET author_id = $2 WHERE author_id = $1 RETURNING id`},
		{model.TableReceipts, model.ChangeDelete,
			`DELETE FROM receipts s WHERE s.recipient_id = $1 AND EXISTS (
SELECT 1 FROM receipts d WHERE d.recipient_id = $2 AND d.message_id = s.message_id) RETURNING s.id`},
		{model.TableReceipts, model.ChangeUpdate,
			`UPDATE receipts SET recipient_id = $2 WHERE recipient_id = $1 RETURNING id`},
		{model.TableCalls, model.ChangeUpdate,
			`UPDATE calls SET ringer_id = $2 WHERE ringer_id = $1 RETURNING id`},
	}
)

// Merge moves every row referencing source onto dest, hands over the PNI and phone number if dest
// lacks them, and deletes source when it no longer carries any identifier. ACIs never move.
func (t *recipientTx) Merge(ctx context.Context, source, dest int64) (model.MergeOutcome, error) {
	src, err := getRecipient(ctx, t.q, source, true)
	if err != nil {
		return model.MergeOutcome{}, fmt.Errorf("merge source %d: %w", source, err)
	}
	dst, err := getRecipient(ctx, t.q, dest, true)
	if err != nil {
		return model.MergeOutcome{}, fmt.Errorf("merge dest %d: %w", dest, err)
	}

	if src.PNI != nil && dst.PNI == nil {
		if _, err := t.SetPNI(ctx, src.ID, nil); err != nil {
			return model.MergeOutcome{}, err
		}
		if _, err := t.SetPNI(ctx, dst.ID, src.PNI); err != nil {
			return model.MergeOutcome{}, err
		}
		src.PNI = nil
	}
	if src.E164 != nil && dst.E164 == nil {
		if _, err := t.SetE164(ctx, src.ID, nil); err != nil {
			return model.MergeOutcome{}, err
		}
		if _, err := t.SetE164(ctx, dst.ID, src.E164); err != nil {
			return model.MergeOutcome{}, err
		}
		src.E164 = nil
	}

	if err := t.runMoves(ctx, membershipMoves, src.ID, dst.ID); err != nil {
		return model.MergeOutcome{}, err
	}
	if err := t.mergeSessions(ctx, src.ID, dst.ID); err != nil {
		return model.MergeOutcome{}, err
	}
	if err := t.runMoves(ctx, authorMoves, src.ID, dst.ID); err != nil {
		return model.MergeOutcome{}, err
	}

	out := model.MergeOutcome{Dest: dst.ID}
	if src.Empty() {
		if _, err := t.collect(ctx, model.TableRecipients, model.ChangeDelete,
			`DELETE FROM recipients WHERE id = $1 RETURNING id`, src.ID); err != nil {
			return model.MergeOutcome{}, fmt.Errorf("delete merged recipient %d: %w", src.ID, err)
		}
		out.SourceDeleted = true
	}
	return out, nil
}

func (t *recipientTx) runMoves(ctx context.Context, moves []move, source, dest int64) error {
	for _, mv := range moves {
		if _, err := t.collect(ctx, mv.table, mv.kind, mv.sql, source, dest); err != nil {
			return fmt.Errorf("%s %s: %w", mv.kind, mv.table, err)
		}
	}
	return nil
}

// mergeSessions hands the source's 1:1 session to dest, or folds it into dest's own session.
func (t *recipientTx) mergeSessions(ctx context.Context, source, dest int64) error {
	srcSession, err := t.sessionOf(ctx, source)
	if err != nil || srcSession == 0 {
		return err
	}
	dstSession, err := t.sessionOf(ctx, dest)
	if err != nil {
		return err
	}
	if dstSession == 0 {
		_, err := t.collect(ctx, model.TableSessions, model.ChangeUpdate,
			`UPDATE sessions SET direct_recipient_id = $2 WHERE id = $1 RETURNING id`, srcSession, dest)
		return err
	}

	if _, err := t.collect(ctx, model.TableMessages, model.ChangeUpdate,
		`UPDATE messages SET session_id = $2 WHERE session_id = $1 RETURNING id`, srcSession, dstSession); err != nil {
		return fmt.Errorf("move session messages: %w", err)
	}
	if _, err := t.collect(ctx, model.TableCalls, model.ChangeUpdate,
		`UPDATE calls SET session_id = $2 WHERE session_id = $1 RETURNING id`, srcSession, dstSession); err != nil {
		return fmt.Errorf("move session calls: %w", err)
	}
	if _, err := t.collect(ctx, model.TableSessions, model.ChangeDelete,
		`DELETE FROM sessions WHERE id = $1 RETURNING id`, srcSession); err != nil {
		return fmt.Errorf("drop merged session: %w", err)
	}
	return nil
}

// sessionOf returns the 1:1 session id of a recipient, 0 if none.
func (t *recipientTx) sessionOf(ctx context.Context, recipientID int64) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `SELECT id FROM sessions WHERE direct_recipient_id = $1`, recipientID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}
