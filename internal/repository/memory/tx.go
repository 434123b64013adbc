package memory

import (
	"context"
	"fmt"

	"github.com/and161185/recipient-keeper/internal/model"
)

// memTx mirrors the Postgres transaction: same op semantics, same recorded changes.
type memTx struct {
	st      *state
	changes []model.Change
}

func (t *memTx) record(table string, kind model.ChangeKind, id int64) {
	t.changes = append(t.changes, model.Change{Table: table, Kind: kind, RowID: id})
}

func (t *memTx) Lookup(_ context.Context, c model.Criteria) (model.Matches, error) {
	return lookup(t.st, c), nil
}

func (t *memTx) Get(_ context.Context, id int64) (*model.Recipient, error) {
	return get(t.st, id)
}

func (t *memTx) Create(_ context.Context, aci *model.ACI, pni *model.PNI, e164 *model.E164) (int64, error) {
	id := t.st.newID()
	t.st.recipients[id] = model.Recipient{ID: id, ACI: aci, PNI: pni, E164: e164}
	t.record(model.TableRecipients, model.ChangeInsert, id)
	return id, nil
}

func (t *memTx) SetACI(_ context.Context, id int64, aci *model.ACI) (int64, error) {
	return t.update(id, func(r *model.Recipient) { r.ACI = aci })
}

func (t *memTx) SetPNI(_ context.Context, id int64, pni *model.PNI) (int64, error) {
	return t.update(id, func(r *model.Recipient) { r.PNI = pni })
}

func (t *memTx) SetE164(_ context.Context, id int64, e164 *model.E164) (int64, error) {
	return t.update(id, func(r *model.Recipient) { r.E164 = e164 })
}

func (t *memTx) update(id int64, set func(r *model.Recipient)) (int64, error) {
	r, err := get(t.st, id)
	if err != nil {
		return 0, err
	}
	set(r)
	t.st.recipients[id] = *r
	t.record(model.TableRecipients, model.ChangeUpdate, id)
	return id, nil
}

func (t *memTx) Merge(ctx context.Context, source, dest int64) (model.MergeOutcome, error) {
	src, err := get(t.st, source)
	if err != nil {
		return model.MergeOutcome{}, fmt.Errorf("merge source: %w", err)
	}
	dst, err := get(t.st, dest)
	if err != nil {
		return model.MergeOutcome{}, fmt.Errorf("merge dest: %w", err)
	}

	if src.PNI != nil && dst.PNI == nil {
		pni := src.PNI
		if _, err := t.SetPNI(ctx, source, nil); err != nil {
			return model.MergeOutcome{}, err
		}
		if _, err := t.SetPNI(ctx, dest, pni); err != nil {
			return model.MergeOutcome{}, err
		}
		src.PNI = nil
	}
	if src.E164 != nil && dst.E164 == nil {
		e164 := src.E164
		if _, err := t.SetE164(ctx, source, nil); err != nil {
			return model.MergeOutcome{}, err
		}
		if _, err := t.SetE164(ctx, dest, e164); err != nil {
			return model.MergeOutcome{}, err
		}
		src.E164 = nil
	}

	st := t.st
	for _, id := range sortedKeys(st.messages) {
		if m := st.messages[id]; m.SenderID != nil && *m.SenderID == source {
			m.SenderID = &dest
			st.messages[id] = m
			t.record(model.TableMessages, model.ChangeUpdate, id)
		}
	}
	t.moveMembers(st.groupV1, model.TableGroupV1Members, source, dest)
	t.moveMembers(st.groupV2, model.TableGroupV2Members, source, dest)
	t.mergeSessions(source, dest)

	for _, id := range sortedKeys(st.reactions) {
		r := st.reactions[id]
		if r.AuthorID == source && t.hasReaction(r.MessageID, dest) {
			delete(st.reactions, id)
			t.record(model.TableReactions, model.ChangeDelete, id)
		}
	}
	for _, id := range sortedKeys(st.reactions) {
		if r := st.reactions[id]; r.AuthorID == source {
			r.AuthorID = dest
			st.reactions[id] = r
			t.record(model.TableReactions, model.ChangeUpdate, id)
		}
	}
	for _, id := range sortedKeys(st.receipts) {
		r := st.receipts[id]
		if r.RecipientID == source && t.hasReceipt(r.MessageID, dest) {
			delete(st.receipts, id)
			t.record(model.TableReceipts, model.ChangeDelete, id)
		}
	}
	for _, id := range sortedKeys(st.receipts) {
		if r := st.receipts[id]; r.RecipientID == source {
			r.RecipientID = dest
			st.receipts[id] = r
			t.record(model.TableReceipts, model.ChangeUpdate, id)
		}
	}
	for _, id := range sortedKeys(st.calls) {
		if c := st.calls[id]; c.RingerID == source {
			c.RingerID = dest
			st.calls[id] = c
			t.record(model.TableCalls, model.ChangeUpdate, id)
		}
	}

	out := model.MergeOutcome{Dest: dest}
	if src.Empty() {
		delete(st.recipients, source)
		t.record(model.TableRecipients, model.ChangeDelete, source)
		out.SourceDeleted = true
	}
	return out, nil
}

func (t *memTx) moveMembers(rows map[int64]Membership, table string, source, dest int64) {
	groups := map[string]bool{}
	for _, m := range rows {
		if m.RecipientID == dest {
			groups[m.GroupID] = true
		}
	}
	for _, id := range sortedKeys(rows) {
		if m := rows[id]; m.RecipientID == source && groups[m.GroupID] {
			delete(rows, id)
			t.record(table, model.ChangeDelete, id)
		}
	}
	for _, id := range sortedKeys(rows) {
		if m := rows[id]; m.RecipientID == source {
			m.RecipientID = dest
			rows[id] = m
			t.record(table, model.ChangeUpdate, id)
		}
	}
}

func (t *memTx) mergeSessions(source, dest int64) {
	st := t.st
	srcSession, dstSession := t.sessionOf(source), t.sessionOf(dest)
	if srcSession == 0 {
		return
	}
	if dstSession == 0 {
		s := st.sessions[srcSession]
		s.DirectRecipientID = &dest
		st.sessions[srcSession] = s
		t.record(model.TableSessions, model.ChangeUpdate, srcSession)
		return
	}
	for _, id := range sortedKeys(st.messages) {
		if m := st.messages[id]; m.SessionID == srcSession {
			m.SessionID = dstSession
			st.messages[id] = m
			t.record(model.TableMessages, model.ChangeUpdate, id)
		}
	}
	for _, id := range sortedKeys(st.calls) {
		if c := st.calls[id]; c.SessionID == srcSession {
			c.SessionID = dstSession
			st.calls[id] = c
			t.record(model.TableCalls, model.ChangeUpdate, id)
		}
	}
	delete(st.sessions, srcSession)
	t.record(model.TableSessions, model.ChangeDelete, srcSession)
}

func (t *memTx) sessionOf(recipientID int64) int64 {
	for _, id := range sortedKeys(t.st.sessions) {
		if s := t.st.sessions[id]; s.DirectRecipientID != nil && *s.DirectRecipientID == recipientID {
			return id
		}
	}
	return 0
}

func (t *memTx) hasReaction(messageID, author int64) bool {
	for _, r := range t.st.reactions {
		if r.MessageID == messageID && r.AuthorID == author {
			return true
		}
	}
	return false
}

func (t *memTx) hasReceipt(messageID, recipientID int64) bool {
	for _, r := range t.st.receipts {
		if r.MessageID == messageID && r.RecipientID == recipientID {
			return true
		}
	}
	return false
}
