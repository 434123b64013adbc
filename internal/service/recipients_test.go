package service

import (
	"context"
	"errors"
	"testing"

	"github.com/and161185/recipient-keeper/internal/errs"
	"github.com/and161185/recipient-keeper/internal/merge"
	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/repository"
	"github.com/and161185/recipient-keeper/internal/repository/memory"
)

const (
	testACI = "a0000000-0000-4000-8000-000000000001"
	testPNI = "b0000000-0000-4000-8000-000000000001"
)

type fakeMerger struct {
	in  model.MergeRequest
	out model.RecipientResult
	err error
	n   int
}

func (f *fakeMerger) MergeAndFetch(_ context.Context, req model.MergeRequest) (model.RecipientResult, error) {
	f.in = req
	f.n++
	return f.out, f.err
}

type fakeReader struct {
	getIn  int64
	getOut *model.Recipient
	getErr error
}

var _ repository.RecipientReader = (*fakeReader)(nil)

func (f *fakeReader) Lookup(context.Context, model.Criteria) (model.Matches, error) {
	return model.Matches{}, nil
}

func (f *fakeReader) Get(_ context.Context, id int64) (*model.Recipient, error) {
	f.getIn = id
	return f.getOut, f.getErr
}

func TestRecipientService_MergeAndFetch_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		name string
		in   MergeInput
	}{
		{"empty", MergeInput{}},
		{"blank", MergeInput{E164: "  ", ACI: " "}},
		{"bad e164", MergeInput{E164: "5550001234"}},
		{"bad aci", MergeInput{ACI: "not-a-uuid"}},
		{"bad pni", MergeInput{PNI: "PNI:xyz"}},
		{"bad trust", MergeInput{ACI: testACI, Trust: "sometimes"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &fakeMerger{}
			s := NewRecipientService(m, &fakeReader{})
			_, err := s.MergeAndFetch(ctx, tc.in)
			if !errors.Is(err, errs.ErrInvalidArgument) {
				t.Fatalf("want ErrInvalidArgument, got %v", err)
			}
			if m.n != 0 {
				t.Fatalf("merger must not be called on invalid input")
			}
		})
	}
}

func TestRecipientService_MergeAndFetch_Parses(t *testing.T) {
	t.Parallel()
	m := &fakeMerger{out: model.RecipientResult{ID: 7, Changed: true}}
	s := NewRecipientService(m, &fakeReader{})

	res, err := s.MergeAndFetch(context.Background(), MergeInput{
		E164:       " +15550001234 ",
		ACI:        testACI,
		PNI:        "PNI:" + testPNI,
		Trust:      "Certain",
		ChangeSelf: true,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.ID != 7 || !res.Changed {
		t.Fatalf("result not passed through: %+v", res)
	}
	req := m.in
	if req.Trust != model.TrustCertain || !req.ChangeSelf {
		t.Fatalf("flags not parsed: %+v", req)
	}
	if req.E164 == nil || *req.E164 != "+15550001234" {
		t.Fatalf("e164 not trimmed: %v", req.E164)
	}
	if req.ACI == nil || req.ACI.String() != testACI {
		t.Fatalf("aci mismatch: %v", req.ACI)
	}
	if req.PNI == nil || req.PNI.String() != testPNI {
		t.Fatalf("pni prefix not stripped: %v", req.PNI)
	}
}

func TestRecipientService_MergeAndFetch_DefaultTrust(t *testing.T) {
	t.Parallel()
	m := &fakeMerger{}
	s := NewRecipientService(m, &fakeReader{})

	if _, err := s.MergeAndFetch(context.Background(), MergeInput{PNI: testPNI}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.in.Trust != model.TrustUncertain {
		t.Fatalf("default trust must be uncertain, got %v", m.in.Trust)
	}
	if m.in.ACI != nil || m.in.E164 != nil {
		t.Fatalf("absent identifiers must stay nil: %+v", m.in)
	}
}

func TestRecipientService_MergeAndFetch_PropagatesError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	s := NewRecipientService(&fakeMerger{err: boom}, &fakeReader{})
	if _, err := s.MergeAndFetch(context.Background(), MergeInput{ACI: testACI}); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
}

func TestRecipientService_Get(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := &fakeReader{getOut: &model.Recipient{ID: 3}}
	s := NewRecipientService(&fakeMerger{}, r)

	if _, err := s.Get(ctx, 0); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument on id 0, got %v", err)
	}
	got, err := s.Get(ctx, 3)
	if err != nil || got.ID != 3 || r.getIn != 3 {
		t.Fatalf("get mismatch: %+v %v", got, err)
	}

	r.getOut, r.getErr = nil, errs.ErrNotFound
	if _, err := s.Get(ctx, 4); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRecipientService_WithEngine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	s := NewRecipientService(merge.NewEngine(store), store)

	res, err := s.MergeAndFetch(ctx, MergeInput{E164: "+15550001234", ACI: testACI, Trust: "certain"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.ID == 0 || !res.Changed {
		t.Fatalf("expected a created recipient: %+v", res)
	}

	again, err := s.MergeAndFetch(ctx, MergeInput{E164: "+15550001234", ACI: testACI, Trust: "certain"})
	if err != nil || again.ID != res.ID || again.Changed {
		t.Fatalf("second call must resolve without changes: %+v %v", again, err)
	}

	got, err := s.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.E164 == nil || *got.E164 != "+15550001234" {
		t.Fatalf("stored number mismatch: %+v", got)
	}
}
