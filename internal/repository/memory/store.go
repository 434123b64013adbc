// Package memory is an in-process RecipientRepository. Every transaction works on a copy of the
// committed state; uniqueness and references are checked when fn returns, the way the Postgres
// schema checks its deferred constraints at commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/and161185/recipient-keeper/internal/errs"
	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/repository"
)

// Session is a conversation thread. DirectRecipientID is set for 1:1 sessions.
type Session struct {
	ID                int64
	DirectRecipientID *int64
}

// Message belongs to a session; SenderID is nil for outgoing messages.
type Message struct {
	ID        int64
	SessionID int64
	SenderID  *int64
	Body      string
}

// Membership is a group_v1_members or group_v2_members row.
type Membership struct {
	ID          int64
	GroupID     string
	RecipientID int64
}

// Reaction is one author's reaction to a message.
type Reaction struct {
	ID        int64
	MessageID int64
	AuthorID  int64
	Emoji     string
}

// Receipt records that a recipient received or read a message.
type Receipt struct {
	ID          int64
	MessageID   int64
	RecipientID int64
}

// Call is a call log entry.
type Call struct {
	ID        int64
	SessionID int64
	RingerID  int64
}

type state struct {
	nextID     int64
	recipients map[int64]model.Recipient
	sessions   map[int64]Session
	messages   map[int64]Message
	groupV1    map[int64]Membership
	groupV2    map[int64]Membership
	reactions  map[int64]Reaction
	receipts   map[int64]Receipt
	calls      map[int64]Call
}

func newState() *state {
	return &state{
		recipients: map[int64]model.Recipient{},
		sessions:   map[int64]Session{},
		messages:   map[int64]Message{},
		groupV1:    map[int64]Membership{},
		groupV2:    map[int64]Membership{},
		reactions:  map[int64]Reaction{},
		receipts:   map[int64]Receipt{},
		calls:      map[int64]Call{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies every table. Rows are values and pointer fields are only ever replaced, never mutated.
func (s *state) clone() *state {
	return &state{
		nextID:     s.nextID,
		recipients: cloneMap(s.recipients),
		sessions:   cloneMap(s.sessions),
		messages:   cloneMap(s.messages),
		groupV1:    cloneMap(s.groupV1),
		groupV2:    cloneMap(s.groupV2),
		reactions:  cloneMap(s.reactions),
		receipts:   cloneMap(s.receipts),
		calls:      cloneMap(s.calls),
	}
}

func (s *state) newID() int64 {
	s.nextID++
	return s.nextID
}

// Store is a transactional in-memory recipient store.
type Store struct {
	mu sync.Mutex
	st *state

	events []model.Event
	subs   map[*stream]struct{}
}

var (
	_ repository.RecipientRepository = (*Store)(nil)
	_ repository.EventSink           = (*Store)(nil)
	_ repository.ChangeFeed          = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), subs: map[*stream]struct{}{}}
}

func (s *Store) Lookup(_ context.Context, c model.Criteria) (model.Matches, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lookup(s.st, c), nil
}

func (s *Store) Get(_ context.Context, id int64) (*model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return get(s.st, id)
}

// WithTx runs fn against a private copy and swaps it in if fn succeeds and the result is consistent.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.RecipientTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.st.validate(); err != nil {
		return err
	}
	s.st = tx.st
	if len(tx.changes) > 0 {
		for sub := range s.subs {
			sub.push(tx.changes)
		}
	}
	return nil
}

// PublishEvents records events; see Events.
func (s *Store) PublishEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events returns every event published so far.
func (s *Store) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

func lookup(st *state, c model.Criteria) model.Matches {
	var m model.Matches
	for _, r := range st.recipients {
		r := r
		if c.ACI != nil && r.ACI != nil && *r.ACI == *c.ACI {
			m.ByACI = &r
		}
		if c.PNI != nil && r.PNI != nil && *r.PNI == *c.PNI {
			m.ByPNI = &r
		}
		if c.E164 != nil && r.E164 != nil && *r.E164 == *c.E164 {
			m.ByE164 = &r
		}
	}
	return m
}

func get(st *state, id int64) (*model.Recipient, error) {
	r, ok := st.recipients[id]
	if !ok {
		return nil, fmt.Errorf("recipient %d: %w", id, errs.ErrNotFound)
	}
	return &r, nil
}

// validate enforces what the schema enforces at commit.
func (s *state) validate() error {
	acis := map[model.ACI]int64{}
	pnis := map[model.PNI]int64{}
	e164s := map[model.E164]int64{}
	for _, id := range sortedKeys(s.recipients) {
		r := s.recipients[id]
		if r.ACI != nil {
			if other, ok := acis[*r.ACI]; ok {
				return fmt.Errorf("aci held by %d and %d: %w", other, id, errs.ErrAlreadyExists)
			}
			acis[*r.ACI] = id
		}
		if r.PNI != nil {
			if other, ok := pnis[*r.PNI]; ok {
				return fmt.Errorf("pni held by %d and %d: %w", other, id, errs.ErrAlreadyExists)
			}
			pnis[*r.PNI] = id
		}
		if r.E164 != nil {
			if other, ok := e164s[*r.E164]; ok {
				return fmt.Errorf("e164 held by %d and %d: %w", other, id, errs.ErrAlreadyExists)
			}
			e164s[*r.E164] = id
		}
	}

	direct := map[int64]bool{}
	for _, ss := range s.sessions {
		if ss.DirectRecipientID == nil {
			continue
		}
		if err := s.ref(*ss.DirectRecipientID, "sessions"); err != nil {
			return err
		}
		if direct[*ss.DirectRecipientID] {
			return fmt.Errorf("two sessions for recipient %d: %w", *ss.DirectRecipientID, errs.ErrAlreadyExists)
		}
		direct[*ss.DirectRecipientID] = true
	}
	for _, m := range s.messages {
		if _, ok := s.sessions[m.SessionID]; !ok {
			return fmt.Errorf("message %d references missing session %d", m.ID, m.SessionID)
		}
		if m.SenderID != nil {
			if err := s.ref(*m.SenderID, "messages"); err != nil {
				return err
			}
		}
	}
	for table, rows := range map[string]map[int64]Membership{"group_v1_members": s.groupV1, "group_v2_members": s.groupV2} {
		seen := map[string]bool{}
		for _, m := range rows {
			if err := s.ref(m.RecipientID, table); err != nil {
				return err
			}
			key := fmt.Sprintf("%s/%d", m.GroupID, m.RecipientID)
			if seen[key] {
				return fmt.Errorf("%s duplicate %s: %w", table, key, errs.ErrAlreadyExists)
			}
			seen[key] = true
		}
	}
	seen := map[[2]int64]bool{}
	for _, r := range s.reactions {
		if err := s.ref(r.AuthorID, "reactions"); err != nil {
			return err
		}
		key := [2]int64{r.MessageID, r.AuthorID}
		if seen[key] {
			return fmt.Errorf("reactions duplicate %v: %w", key, errs.ErrAlreadyExists)
		}
		seen[key] = true
	}
	seen = map[[2]int64]bool{}
	for _, r := range s.receipts {
		if err := s.ref(r.RecipientID, "receipts"); err != nil {
			return err
		}
		key := [2]int64{r.MessageID, r.RecipientID}
		if seen[key] {
			return fmt.Errorf("receipts duplicate %v: %w", key, errs.ErrAlreadyExists)
		}
		seen[key] = true
	}
	for _, c := range s.calls {
		if err := s.ref(c.RingerID, "calls"); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) ref(id int64, table string) error {
	if _, ok := s.recipients[id]; !ok {
		return fmt.Errorf("%s references missing recipient %d", table, id)
	}
	return nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedValues[V any](m map[int64]V) []V {
	out := make([]V, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, m[k])
	}
	return out
}
