package model

import "fmt"

// MergeOp is one atomic mutation intent produced by the planner.
// Ops are applied strictly in the order they were produced.
type MergeOp interface {
	// Kind returns a stable op name, usable as a metric/log label.
	Kind() string
	fmt.Stringer
	isMergeOp()
}

// SetPNI replaces the PNI of recipient ID (nil clears it).
type SetPNI struct {
	ID  int64
	PNI *PNI
}

// SetACI sets the ACI of recipient ID. Only ever issued for recipients without an ACI.
type SetACI struct {
	ID  int64
	ACI *ACI
}

// SetE164 replaces the phone number of recipient ID (nil clears it).
type SetE164 struct {
	ID   int64
	E164 *E164
}

// Merge moves everything referencing Source onto Dest and deletes Source once it is empty.
type Merge struct {
	Source int64
	Dest   int64
}

// Create inserts a new recipient with the given identifiers.
type Create struct {
	ACI  *ACI
	PNI  *PNI
	E164 *E164
}

func (SetPNI) isMergeOp()  {}
func (SetACI) isMergeOp()  {}
func (SetE164) isMergeOp() {}
func (Merge) isMergeOp()   {}
func (Create) isMergeOp()  {}

func (SetPNI) Kind() string  { return "set_pni" }
func (SetACI) Kind() string  { return "set_aci" }
func (SetE164) Kind() string { return "set_e164" }
func (Merge) Kind() string   { return "merge" }
func (Create) Kind() string  { return "create" }

func (o SetPNI) String() string { return fmt.Sprintf("SetPni(#%d, %s)", o.ID, fmtPNI(o.PNI)) }

func (o SetACI) String() string { return fmt.Sprintf("SetAci(#%d, %s)", o.ID, fmtACI(o.ACI)) }

func (o SetE164) String() string { return fmt.Sprintf("SetE164(#%d, %s)", o.ID, fmtE164(o.E164)) }

func (o Merge) String() string { return fmt.Sprintf("Merge(#%d -> #%d)", o.Source, o.Dest) }

func (o Create) String() string {
	return fmt.Sprintf("Create(aci=%s, pni=%s, e164=%s)", fmtACI(o.ACI), fmtPNI(o.PNI), fmtE164(o.E164))
}

func fmtACI(a *ACI) string {
	if a == nil {
		return "none"
	}
	return a.String()
}

func fmtPNI(p *PNI) string {
	if p == nil {
		return "none"
	}
	return p.ServiceID()
}

func fmtE164(e *E164) string {
	if e == nil {
		return "none"
	}
	return string(*e)
}
