// Package service contains application services for recipient resolution.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/and161185/recipient-keeper/internal/errs"
	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/repository"
)

// Merger resolves identifiers onto a canonical recipient.
type Merger interface {
	MergeAndFetch(ctx context.Context, req model.MergeRequest) (model.RecipientResult, error)
}

// RecipientService defines the operations exposed to transports.
type RecipientService interface {
	// MergeAndFetch validates raw identifiers and resolves them onto one recipient.
	MergeAndFetch(ctx context.Context, in MergeInput) (model.RecipientResult, error)
	// Get returns a single recipient by row id.
	Get(ctx context.Context, id int64) (*model.Recipient, error)
}

// MergeInput is the transport-level merge request. Empty strings mean "not supplied".
type MergeInput struct {
	E164       string `json:"e164,omitempty" yaml:"e164,omitempty" validate:"omitempty,e164"`
	ACI        string `json:"aci,omitempty" yaml:"aci,omitempty" validate:"omitempty,uuid"`
	PNI        string `json:"pni,omitempty" yaml:"pni,omitempty" validate:"omitempty,uuid"`
	Trust      string `json:"trust,omitempty" yaml:"trust,omitempty" validate:"omitempty,oneof=certain uncertain"`
	ChangeSelf bool   `json:"change_self,omitempty" yaml:"change_self,omitempty"`
}

type RecipientServiceImpl struct {
	merger   Merger
	reader   repository.RecipientReader
	validate *validator.Validate
}

// NewRecipientService constructs RecipientService over a merger and a read path.
func NewRecipientService(merger Merger, reader repository.RecipientReader) *RecipientServiceImpl {
	return &RecipientServiceImpl{
		merger:   merger,
		reader:   reader,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MergeAndFetch validates input and delegates to the merge engine.
// Validation rules:
// - at least one of e164/aci/pni
// - e164 in E.164 form, aci/pni as UUIDs (pni may carry the "PNI:" prefix)
// - trust is "certain" or "uncertain" (default uncertain)
func (s *RecipientServiceImpl) MergeAndFetch(ctx context.Context, in MergeInput) (model.RecipientResult, error) {
	req, err := s.Parse(in)
	if err != nil {
		return model.RecipientResult{}, err
	}
	return s.merger.MergeAndFetch(ctx, req)
}

// Parse turns a validated MergeInput into a model.MergeRequest.
func (s *RecipientServiceImpl) Parse(in MergeInput) (model.MergeRequest, error) {
	in.E164 = strings.TrimSpace(in.E164)
	in.ACI = strings.TrimSpace(in.ACI)
	in.PNI = strings.TrimPrefix(strings.TrimSpace(in.PNI), "PNI:")
	in.Trust = strings.ToLower(strings.TrimSpace(in.Trust))

	if in.E164 == "" && in.ACI == "" && in.PNI == "" {
		return model.MergeRequest{}, fmt.Errorf("validation: no identifier supplied: %w", errs.ErrInvalidArgument)
	}
	if err := s.validate.Struct(in); err != nil {
		return model.MergeRequest{}, fmt.Errorf("validation: %s: %w", describe(err), errs.ErrInvalidArgument)
	}

	req := model.MergeRequest{ChangeSelf: in.ChangeSelf}
	if in.Trust == "certain" {
		req.Trust = model.TrustCertain
	}
	if in.E164 != "" {
		e := model.E164(in.E164)
		req.E164 = &e
	}
	if in.ACI != "" {
		a, err := model.ParseACI(in.ACI)
		if err != nil {
			return model.MergeRequest{}, fmt.Errorf("validation: aci: %w", errs.ErrInvalidArgument)
		}
		req.ACI = &a
	}
	if in.PNI != "" {
		p, err := model.ParsePNI(in.PNI)
		if err != nil {
			return model.MergeRequest{}, fmt.Errorf("validation: pni: %w", errs.ErrInvalidArgument)
		}
		req.PNI = &p
	}
	return req, nil
}

// Get fetches a recipient by id.
func (s *RecipientServiceImpl) Get(ctx context.Context, id int64) (*model.Recipient, error) {
	if id <= 0 {
		return nil, fmt.Errorf("validation: id must be positive: %w", errs.ErrInvalidArgument)
	}
	return s.reader.Get(ctx, id)
}

// describe lists the offending fields of a validator error.
func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
