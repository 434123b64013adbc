package merge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/repository"
)

// executor applies planner ops against an open transaction.
type executor struct {
	tx  repository.RecipientTx
	log *zap.Logger
}

// apply executes one op and returns the affected recipient id.
func (x executor) apply(ctx context.Context, op model.MergeOp) (int64, error) {
	switch op := op.(type) {
	case model.Create:
		return x.tx.Create(ctx, op.ACI, op.PNI, op.E164)
	case model.SetACI:
		return x.tx.SetACI(ctx, op.ID, op.ACI)
	case model.SetPNI:
		return x.tx.SetPNI(ctx, op.ID, op.PNI)
	case model.SetE164:
		return x.tx.SetE164(ctx, op.ID, op.E164)
	case model.Merge:
		if op.Source == op.Dest {
			return 0, fmt.Errorf("merge #%d into itself", op.Source)
		}
		out, err := x.tx.Merge(ctx, op.Source, op.Dest)
		if err != nil {
			return 0, err
		}
		if !out.SourceDeleted {
			x.log.Error("merge source still carries identifiers, keeping it",
				zap.Int64("source", op.Source),
				zap.Int64("dest", op.Dest),
			)
		}
		return out.Dest, nil
	default:
		return 0, fmt.Errorf("unknown merge op %T", op)
	}
}

// run applies ops in order, stopping at the first failure.
func (x executor) run(ctx context.Context, ops []model.MergeOp, applied func(model.MergeOp)) error {
	for i, op := range ops {
		id, err := x.apply(ctx, op)
		if err != nil {
			return fmt.Errorf("apply op %d %s: %w", i, op.Kind(), err)
		}
		x.log.Debug("applied merge op", zap.Int("index", i), zap.String("op", op.Kind()), zap.Int64("row", id))
		if applied != nil {
			applied(op)
		}
	}
	return nil
}
