// Package merge resolves freshly learned ACI/PNI/E164 identifiers onto a single canonical recipient.
//
// The planner is a pure function over the three point lookups; it returns an ordered list of
// model.MergeOp values. The engine applies those ops inside one store transaction, re-runs the
// lookup and lets the finalizer pick the canonical recipient and backfill anything that did not
// converge.
package merge

import (
	"fmt"

	"github.com/and161185/recipient-keeper/internal/errs"
	"github.com/and161185/recipient-keeper/internal/model"
)

// Plan is the planner output.
type Plan struct {
	// Resolved is set when one existing recipient already satisfies every criterion. Ops is empty then.
	Resolved *model.Recipient
	Ops      []model.MergeOp
	Events   []model.Event
}

// PlanMerge decides how to reconcile req with the current lookup result m.
// Identity-clearing ops always precede the merges and creates that rely on the cleared state.
func PlanMerge(req model.MergeRequest, m model.Matches) (Plan, error) {
	if req.Criteria.Empty() {
		return Plan{}, fmt.Errorf("merge: no identifier supplied: %w", errs.ErrInvalidArgument)
	}
	p := &planner{req: req, consumed: make(map[int64]bool)}
	p.resolve(m)
	return p.out, nil
}

type planner struct {
	req model.MergeRequest
	out Plan

	// consumed holds sources already scheduled for a Merge.
	consumed map[int64]bool
	pniDone  bool
	e164Done bool
	// pniDest is the recipient the requested PNI was scheduled onto, 0 if none.
	pniDest int64
}

func (p *planner) certain() bool { return p.req.Trust == model.TrustCertain }

// allowE164 reports whether the requested number may be attached to the requested ACI.
// Unauthenticated phone-number claims are never attached to a real account.
func (p *planner) allowE164() bool { return p.certain() || p.req.ACI == nil }

// mayAttachE164 reports whether the requested number may be written onto r.
// Overwriting a number, or giving one to an account, needs an authenticated source.
func (p *planner) mayAttachE164(r *model.Recipient) bool {
	return mayAttachE164(p.req, r)
}

func mayAttachE164(req model.MergeRequest, r *model.Recipient) bool {
	if req.Trust == model.TrustCertain {
		return true
	}
	return r.E164 == nil && r.ACI == nil && req.ACI == nil
}

func (p *planner) e164ForCreate() *model.E164 {
	if p.allowE164() {
		return p.req.E164
	}
	return nil
}

func (p *planner) op(op model.MergeOp) { p.out.Ops = append(p.out.Ops, op) }

func (p *planner) event(kind model.EventKind, id int64) {
	p.out.Events = append(p.out.Events, model.Event{Kind: kind, RecipientID: id})
}

func (p *planner) numberChanged(id int64, from, to *model.E164) {
	p.out.Events = append(p.out.Events, model.Event{
		Kind:        model.EventNumberChanged,
		RecipientID: id,
		OldE164:     from,
		NewE164:     to,
	})
}

func (p *planner) resolve(m model.Matches) {
	found := m.Distinct()
	switch len(found) {
	case 0:
		p.op(model.Create{ACI: p.req.ACI, PNI: p.req.PNI, E164: p.e164ForCreate()})
	case 1:
		p.single(found[0], m)
	default:
		p.fanIn(m)
	}
}

// single handles the case where every matched criterion points at the same record.
func (p *planner) single(common *model.Recipient, m model.Matches) {
	if m.Count() == p.req.Count() {
		p.out.Resolved = common
		return
	}
	if p.foreign(common) {
		// A different account wearing the same phone number or PNI.
		p.detach(common, m)
		p.op(model.Create{ACI: p.req.ACI, PNI: p.req.PNI, E164: p.e164ForCreate()})
		return
	}
	p.patch(common)
}

// foreign reports whether r belongs to an account other than the requested ACI.
func (p *planner) foreign(r *model.Recipient) bool {
	return p.req.ACI != nil && r.ACI != nil && *r.ACI != *p.req.ACI
}

// detach strips the disputed identifiers off a record that belongs to another account.
// The number takes its PNI along; a bare PNI match only loses the PNI.
func (p *planner) detach(r *model.Recipient, m model.Matches) {
	holdsE164 := m.ByE164 != nil && m.ByE164.ID == r.ID
	holdsPNI := m.ByPNI != nil && m.ByPNI.ID == r.ID
	switch {
	case holdsE164 && p.allowE164():
		p.op(model.SetE164{ID: r.ID})
		if r.PNI != nil {
			p.op(model.SetPNI{ID: r.ID})
		}
		p.numberChanged(r.ID, r.E164, nil)
	case holdsPNI:
		p.op(model.SetPNI{ID: r.ID})
	}
}

// patch fills in what the single matching record is missing.
func (p *planner) patch(r *model.Recipient) {
	req := p.req
	if req.E164 != nil && !model.SameE164(r.E164, req.E164) && p.mayAttachE164(r) {
		p.op(model.SetE164{ID: r.ID, E164: req.E164})
		if r.ACI != nil && r.E164 != nil {
			p.numberChanged(r.ID, r.E164, req.E164)
		}
	}
	if req.PNI != nil && !model.SamePNI(r.PNI, req.PNI) {
		p.op(model.SetPNI{ID: r.ID, PNI: req.PNI})
		if r.PNI != nil && (r.ACI != nil || req.ACI != nil) {
			p.event(model.EventSessionSwitchover, r.ID)
		}
	}
	if req.ACI != nil && r.ACI == nil {
		p.op(model.SetACI{ID: r.ID, ACI: req.ACI})
	}
}

// fanIn handles criteria that resolved to two or three distinct records.
func (p *planner) fanIn(m model.Matches) {
	if p.req.ACI != nil && m.ByACI == nil {
		if reduced, ok := p.detachForeign(m); ok {
			p.resolve(reduced)
			return
		}
	}

	p.pniVsE164(m)
	p.pniVsACI(m)
	p.unheldPNI(m)
	p.e164VsACI(m)

	if p.req.ACI != nil && m.ByACI == nil && m.ByE164 != nil && m.ByE164.ACI == nil {
		p.op(model.SetACI{ID: m.ByE164.ID, ACI: p.req.ACI})
	}
}

// detachForeign strips records owned by other accounts when nobody holds the requested ACI yet.
// It returns the matches that remain candidates and whether anything was removed.
func (p *planner) detachForeign(m model.Matches) (model.Matches, bool) {
	reduced := m
	changed := false
	if e := m.ByE164; e != nil && p.foreign(e) {
		p.detach(e, m)
		reduced.ByE164 = nil
		if m.ByPNI != nil && m.ByPNI.ID == e.ID {
			reduced.ByPNI = nil
		}
		changed = true
	}
	if r := m.ByPNI; r != nil && p.foreign(r) && (m.ByE164 == nil || m.ByE164.ID != r.ID) {
		p.detach(r, m)
		reduced.ByPNI = nil
		changed = true
	}
	return reduced, changed
}

// pniVsE164 folds the PNI record into the phone-number record. When an ACI record exists it is the
// only legitimate destination, so this pair only applies if it is the phone-number record itself.
func (p *planner) pniVsE164(m model.Matches) {
	pr, er := m.ByPNI, m.ByE164
	if pr == nil || er == nil || pr.ID == er.ID {
		return
	}
	if m.ByACI != nil && m.ByACI.ID != er.ID {
		return
	}
	p.pniDone = true
	p.pniDest = er.ID

	if pr.ACI == nil && pr.E164 == nil {
		if er.PNI != nil {
			p.op(model.SetPNI{ID: er.ID})
		}
		p.op(model.Merge{Source: pr.ID, Dest: er.ID})
		p.consumed[pr.ID] = true
		if er.ACI != nil {
			p.event(model.EventSessionSwitchover, er.ID)
		}
		return
	}

	// The PNI record identifies something on its own: move only the PNI.
	p.op(model.SetPNI{ID: pr.ID})
	p.op(model.SetPNI{ID: er.ID, PNI: p.req.PNI})
	if er.ACI != nil && er.PNI != nil {
		p.event(model.EventSessionSwitchover, er.ID)
	}
}

// pniVsACI folds the PNI record into the ACI record. The ACI record never moves.
func (p *planner) pniVsACI(m model.Matches) {
	pr, ar := m.ByPNI, m.ByACI
	if p.pniDone || pr == nil || ar == nil || pr.ID == ar.ID || p.consumed[pr.ID] {
		return
	}
	p.pniDone = true
	p.pniDest = ar.ID
	e164 := p.req.E164

	pure := pr.ACI == nil && (pr.E164 == nil || model.SameE164(pr.E164, e164))
	if pure {
		if pr.E164 != nil {
			// The PNI record carries the requested number; make room on the ACI record.
			if ar.E164 != nil {
				p.op(model.SetE164{ID: ar.ID})
				p.numberChanged(ar.ID, ar.E164, e164)
			}
			p.e164Done = true
		}
		if ar.PNI != nil {
			p.op(model.SetPNI{ID: ar.ID})
		}
		p.op(model.Merge{Source: pr.ID, Dest: ar.ID})
		p.consumed[pr.ID] = true
		p.event(model.EventSessionSwitchover, ar.ID)
		return
	}

	p.op(model.SetPNI{ID: pr.ID})
	p.op(model.SetPNI{ID: ar.ID, PNI: p.req.PNI})
	if ar.PNI != nil {
		p.event(model.EventSessionSwitchover, ar.ID)
	}
	// The PNI record owns an ACI here, so taking its number needs an authenticated source.
	if e164 != nil && p.certain() && model.SameE164(pr.E164, e164) && !model.SameE164(ar.E164, e164) {
		p.op(model.SetE164{ID: pr.ID})
		p.op(model.SetE164{ID: ar.ID, E164: e164})
		if pr.ACI != nil {
			p.numberChanged(pr.ID, pr.E164, nil)
		}
		if ar.E164 != nil {
			p.numberChanged(ar.ID, ar.E164, e164)
		}
		p.e164Done = true
	}
}

// unheldPNI places a requested PNI nobody holds yet onto the ACI record, so it can vouch for the
// number in e164VsACI within the same call.
func (p *planner) unheldPNI(m model.Matches) {
	ar := m.ByACI
	if p.pniDone || p.req.PNI == nil || m.ByPNI != nil || ar == nil {
		return
	}
	p.pniDone = true
	p.pniDest = ar.ID
	p.op(model.SetPNI{ID: ar.ID, PNI: p.req.PNI})
	if ar.PNI != nil {
		p.event(model.EventSessionSwitchover, ar.ID)
	}
}

// e164VsACI folds the phone-number record into the ACI record, or moves just the number.
func (p *planner) e164VsACI(m model.Matches) {
	er, ar := m.ByE164, m.ByACI
	if p.e164Done || er == nil || ar == nil || er.ID == ar.ID || p.consumed[er.ID] {
		return
	}
	p.e164Done = true
	e164 := p.req.E164

	if er.ACI == nil && er.PNI == nil {
		if ar.E164 != nil {
			// Overwriting a number the account already has needs an authenticated source.
			if !p.certain() {
				return
			}
			p.op(model.SetE164{ID: ar.ID})
			p.numberChanged(ar.ID, ar.E164, e164)
		}
		p.op(model.Merge{Source: er.ID, Dest: ar.ID})
		p.consumed[er.ID] = true
		return
	}

	if !p.certain() {
		// Without authentication a number is never taken away from another account,
		// and otherwise only moves when the PNI vouches for it.
		pni := p.req.PNI
		agree := pni != nil && (model.SamePNI(er.PNI, pni) || model.SamePNI(ar.PNI, pni) || p.pniDest == ar.ID)
		if er.ACI != nil || !agree {
			return
		}
	}
	p.op(model.SetE164{ID: er.ID})
	p.op(model.SetE164{ID: ar.ID, E164: e164})
	if er.ACI != nil {
		p.numberChanged(er.ID, er.E164, nil)
	}
	if ar.E164 != nil {
		p.numberChanged(ar.ID, ar.E164, e164)
	}
}
