// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/recipient-keeper/internal/model"
)

// RecipientReader provides the point lookups the merge engine relies on.
type RecipientReader interface {
	// Lookup runs one point query per supplied criterion; absent criteria yield nil without a query.
	Lookup(ctx context.Context, c model.Criteria) (model.Matches, error)
	// Get loads a recipient by row id.
	Get(ctx context.Context, id int64) (*model.Recipient, error)
}

// RecipientTx is the executor surface available inside a merge transaction.
type RecipientTx interface {
	RecipientReader

	// Create inserts a new recipient and returns its id.
	Create(ctx context.Context, aci *model.ACI, pni *model.PNI, e164 *model.E164) (int64, error)
	// SetACI updates the aci column and returns the updated row id.
	SetACI(ctx context.Context, id int64, aci *model.ACI) (int64, error)
	// SetPNI updates the pni column and returns the updated row id.
	SetPNI(ctx context.Context, id int64, pni *model.PNI) (int64, error)
	// SetE164 updates the e164 column and returns the updated row id.
	SetE164(ctx context.Context, id int64, e164 *model.E164) (int64, error)
	// Merge re-keys every row referencing source onto dest and deletes source if it ends up empty.
	Merge(ctx context.Context, source, dest int64) (model.MergeOutcome, error)
}

// RecipientRepository provides transactional access to recipients.
type RecipientRepository interface {
	RecipientReader

	// WithTx runs fn in one transaction with deferred constraint checking, serialized against other
	// writers. Row changes recorded by fn are published only if the transaction commits.
	WithTx(ctx context.Context, fn func(tx RecipientTx) error) error
}

// EventSink receives the optional merge events after a merge committed.
type EventSink interface {
	PublishEvents(ctx context.Context, events []model.Event) error
}

// ChangeFeed opens subscriptions to committed row-level changes.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (ChangeStream, error)
}

// ChangeStream yields batches of changes in commit order.
type ChangeStream interface {
	// Next blocks until the next batch arrives or ctx is done.
	Next(ctx context.Context) ([]model.Change, error)
	Close(ctx context.Context) error
}
