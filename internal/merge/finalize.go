package merge

import "github.com/and161185/recipient-keeper/internal/model"

// Finalize picks the canonical recipient from the post-execution lookup, preferring the ACI match,
// then the phone-number match, then the PNI match. It also returns the ops needed to make the
// canonical recipient carry every requested identifier nobody else holds.
// A nil canonical means the merge left no record matching any criterion.
func Finalize(req model.MergeRequest, m model.Matches) (*model.Recipient, []model.MergeOp) {
	canonical := m.ByACI
	if canonical == nil {
		canonical = m.ByE164
	}
	if canonical == nil {
		canonical = m.ByPNI
	}
	if canonical == nil {
		return nil, nil
	}

	var ops []model.MergeOp
	if req.ACI != nil && canonical.ACI == nil && m.ByACI == nil {
		ops = append(ops, model.SetACI{ID: canonical.ID, ACI: req.ACI})
	}
	if req.E164 != nil && m.ByE164 == nil && !model.SameE164(canonical.E164, req.E164) && mayAttachE164(req, canonical) {
		ops = append(ops, model.SetE164{ID: canonical.ID, E164: req.E164})
	}
	if req.PNI != nil && m.ByPNI == nil && !model.SamePNI(canonical.PNI, req.PNI) {
		ops = append(ops, model.SetPNI{ID: canonical.ID, PNI: req.PNI})
	}
	return canonical, ops
}
