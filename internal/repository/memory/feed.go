package memory

import (
	"context"
	"sync"

	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/repository"
)

// Subscribe returns a stream of change batches committed after the call.
func (s *Store) Subscribe(context.Context) (repository.ChangeStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &stream{store: s, wake: make(chan struct{}, 1)}
	s.subs[sub] = struct{}{}
	return sub, nil
}

type stream struct {
	store *Store
	wake  chan struct{}

	mu      sync.Mutex
	pending [][]model.Change
}

// push never blocks the committing transaction.
func (st *stream) push(batch []model.Change) {
	st.mu.Lock()
	st.pending = append(st.pending, append([]model.Change(nil), batch...))
	st.mu.Unlock()
	select {
	case st.wake <- struct{}{}:
	default:
	}
}

func (st *stream) Next(ctx context.Context) ([]model.Change, error) {
	for {
		st.mu.Lock()
		if len(st.pending) > 0 {
			batch := st.pending[0]
			st.pending = st.pending[1:]
			st.mu.Unlock()
			return batch, nil
		}
		st.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-st.wake:
		}
	}
}

func (st *stream) Close(context.Context) error {
	st.store.mu.Lock()
	delete(st.store.subs, st)
	st.store.mu.Unlock()
	return nil
}
