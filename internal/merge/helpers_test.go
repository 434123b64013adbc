package merge

import (
	"fmt"
	"strings"

	"github.com/and161185/recipient-keeper/internal/model"
)

func aci(n int) *model.ACI {
	a, err := model.ParseACI(fmt.Sprintf("a0000000-0000-4000-8000-%012d", n))
	if err != nil {
		panic(err)
	}
	return &a
}

func pni(n int) *model.PNI {
	p, err := model.ParsePNI(fmt.Sprintf("b0000000-0000-4000-8000-%012d", n))
	if err != nil {
		panic(err)
	}
	return &p
}

func phone(n int) *model.E164 {
	e := model.E164(fmt.Sprintf("+1555000000%d", n))
	return &e
}

func rec(id int64, a *model.ACI, p *model.PNI, e *model.E164) *model.Recipient {
	return &model.Recipient{ID: id, ACI: a, PNI: p, E164: e}
}

func request(a *model.ACI, p *model.PNI, e *model.E164, trust model.TrustLevel) model.MergeRequest {
	return model.MergeRequest{Criteria: model.Criteria{ACI: a, PNI: p, E164: e}, Trust: trust}
}

// matchesIn runs the three point lookups over a fixed set of records.
func matchesIn(req model.MergeRequest, recs ...*model.Recipient) model.Matches {
	var m model.Matches
	for _, r := range recs {
		if req.ACI != nil && model.SameACI(r.ACI, req.ACI) {
			m.ByACI = r
		}
		if req.PNI != nil && model.SamePNI(r.PNI, req.PNI) {
			m.ByPNI = r
		}
		if req.E164 != nil && model.SameE164(r.E164, req.E164) {
			m.ByE164 = r
		}
	}
	return m
}

func renderPlan(p Plan) []byte {
	var b strings.Builder
	if p.Resolved != nil {
		fmt.Fprintf(&b, "resolved #%d\n", p.Resolved.ID)
	}
	for _, op := range p.Ops {
		b.WriteString(op.String())
		b.WriteByte('\n')
	}
	for _, ev := range p.Events {
		fmt.Fprintf(&b, "event %s #%d", ev.Kind, ev.RecipientID)
		if ev.Kind == model.EventNumberChanged {
			fmt.Fprintf(&b, " %s -> %s", numberOrNone(ev.OldE164), numberOrNone(ev.NewE164))
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func numberOrNone(e *model.E164) string {
	if e == nil {
		return "none"
	}
	return e.String()
}
