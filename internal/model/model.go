// Package model defines domain entities used by the merge engine, services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ACI is the permanent account identifier of a registered account.
type ACI uuid.UUID

// PNI is the phone-number identifier bound to a phone number.
type PNI uuid.UUID

// E164 is a phone number in international E.164 text form (e.g. "+15550001234").
type E164 string

// pniPrefix is how PNIs are tagged when rendered as service ids.
const pniPrefix = "PNI:"

// ParseACI parses a textual UUID into an ACI.
func ParseACI(s string) (ACI, error) {
	u, err := uuid.FromString(strings.TrimSpace(s))
	if err != nil {
		return ACI{}, err
	}
	return ACI(u), nil
}

// ParsePNI parses a textual UUID, with or without the "PNI:" prefix, into a PNI.
func ParsePNI(s string) (PNI, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), pniPrefix)
	u, err := uuid.FromString(s)
	if err != nil {
		return PNI{}, err
	}
	return PNI(u), nil
}

func (a ACI) String() string { return uuid.UUID(a).String() }

func (p PNI) String() string { return uuid.UUID(p).String() }

// ServiceID renders the PNI in its prefixed service-id form.
func (p PNI) ServiceID() string { return pniPrefix + p.String() }

func (e E164) String() string { return string(e) }

// TrustLevel tells whether an identifier was learned from an authenticated source.
type TrustLevel int

const (
	// TrustUncertain marks identifiers from unauthenticated sources (contact-book import).
	TrustUncertain TrustLevel = iota
	// TrustCertain marks identifiers from authenticated protocol exchanges.
	TrustCertain
)

func (t TrustLevel) String() string {
	if t == TrustCertain {
		return "certain"
	}
	return "uncertain"
}

// Recipient is a contact row. At most one live recipient holds a given ACI, PNI or E164.
type Recipient struct {
	ID                int64
	ACI               *ACI
	PNI               *PNI
	E164              *E164
	ProfileGivenName  *string
	ProfileFamilyName *string
	IsRegistered      bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Empty reports whether the recipient carries no identifier at all.
func (r *Recipient) Empty() bool {
	return r.ACI == nil && r.PNI == nil && r.E164 == nil
}

// Criteria is the set of freshly learned identifiers for a contact. Any field may be nil.
type Criteria struct {
	ACI  *ACI
	PNI  *PNI
	E164 *E164
}

// Count returns how many identifiers are supplied.
func (c Criteria) Count() int {
	n := 0
	if c.ACI != nil {
		n++
	}
	if c.PNI != nil {
		n++
	}
	if c.E164 != nil {
		n++
	}
	return n
}

// Empty reports whether no identifier is supplied.
func (c Criteria) Empty() bool { return c.Count() == 0 }

// Matches holds the independent point lookups for each criterion.
type Matches struct {
	ByACI  *Recipient
	ByPNI  *Recipient
	ByE164 *Recipient
}

// Count returns how many criteria found a record.
func (m Matches) Count() int {
	n := 0
	for _, r := range []*Recipient{m.ByACI, m.ByPNI, m.ByE164} {
		if r != nil {
			n++
		}
	}
	return n
}

// Distinct returns the found records collapsed by row id, in ACI, PNI, E164 order.
func (m Matches) Distinct() []*Recipient {
	var out []*Recipient
	seen := make(map[int64]bool, 3)
	for _, r := range []*Recipient{m.ByACI, m.ByPNI, m.ByE164} {
		if r == nil || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

// MergeRequest is the input of merge-and-fetch.
type MergeRequest struct {
	Criteria
	Trust      TrustLevel
	ChangeSelf bool
}

// RecipientResult is the canonical recipient a request resolved to.
type RecipientResult struct {
	ID      int64
	ACI     *ACI
	PNI     *PNI
	E164    *E164
	Changed bool
	Events  []Event
}

// ResultFrom copies the identifying fields of r into a result.
func ResultFrom(r *Recipient) RecipientResult {
	return RecipientResult{ID: r.ID, ACI: r.ACI, PNI: r.PNI, E164: r.E164}
}

// SameACI reports whether both pointers are set and equal, or both nil.
func SameACI(a, b *ACI) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SamePNI reports whether both pointers are set and equal, or both nil.
func SamePNI(a, b *PNI) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SameE164 reports whether both pointers are set and equal, or both nil.
func SameE164(a, b *E164) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
