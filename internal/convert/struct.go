// Package convert maps domain types to and from the google.protobuf.Struct messages carried on the wire.
package convert

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/service"
)

// --- helpers ---

func str(s string) *structpb.Value { return structpb.NewStringValue(s) }

func num(n int64) *structpb.Value { return structpb.NewNumberValue(float64(n)) }

func optACI(a *model.ACI) *structpb.Value {
	if a == nil {
		return structpb.NewNullValue()
	}
	return str(a.String())
}

func optPNI(p *model.PNI) *structpb.Value {
	if p == nil {
		return structpb.NewNullValue()
	}
	return str(p.ServiceID())
}

func optE164(e *model.E164) *structpb.Value {
	if e == nil {
		return structpb.NewNullValue()
	}
	return str(e.String())
}

func optString(s *string) *structpb.Value {
	if s == nil {
		return structpb.NewNullValue()
	}
	return str(*s)
}

func ts(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNullValue()
	}
	return str(t.UTC().Format(time.RFC3339Nano))
}

func getString(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return "", nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	default:
		return "", fmt.Errorf("field %q: want string", key)
	}
}

func getBool(s *structpb.Struct, key string) (bool, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return false, nil
	case *structpb.Value_BoolValue:
		return k.BoolValue, nil
	default:
		return false, fmt.Errorf("field %q: want bool", key)
	}
}

func getInt(s *structpb.Struct, key string) (int64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("field %q: missing", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("field %q: want number", key)
	}
	f := n.NumberValue
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("field %q: not an integer id", key)
	}
	return int64(f), nil
}

// --- MergeAndFetch (client -> server) ---

// MergeInputFromStruct reads {e164, aci, pni, trust, change_self}. Absent and null fields are unset.
func MergeInputFromStruct(s *structpb.Struct) (service.MergeInput, error) {
	if s == nil {
		return service.MergeInput{}, fmt.Errorf("nil request")
	}
	var (
		in  service.MergeInput
		err error
	)
	if in.E164, err = getString(s, "e164"); err != nil {
		return service.MergeInput{}, err
	}
	if in.ACI, err = getString(s, "aci"); err != nil {
		return service.MergeInput{}, err
	}
	if in.PNI, err = getString(s, "pni"); err != nil {
		return service.MergeInput{}, err
	}
	if in.Trust, err = getString(s, "trust"); err != nil {
		return service.MergeInput{}, err
	}
	if in.ChangeSelf, err = getBool(s, "change_self"); err != nil {
		return service.MergeInput{}, err
	}
	return in, nil
}

// MergeInputToStruct is the client-side counterpart of MergeInputFromStruct.
func MergeInputToStruct(in service.MergeInput) *structpb.Struct {
	f := map[string]*structpb.Value{}
	if in.E164 != "" {
		f["e164"] = str(in.E164)
	}
	if in.ACI != "" {
		f["aci"] = str(in.ACI)
	}
	if in.PNI != "" {
		f["pni"] = str(in.PNI)
	}
	if in.Trust != "" {
		f["trust"] = str(in.Trust)
	}
	if in.ChangeSelf {
		f["change_self"] = structpb.NewBoolValue(true)
	}
	return &structpb.Struct{Fields: f}
}

// --- results (server -> client) ---

// ResultToStruct converts a merge result. Event phone numbers are not exposed.
func ResultToStruct(r model.RecipientResult) *structpb.Struct {
	events := make([]*structpb.Value, 0, len(r.Events))
	for _, ev := range r.Events {
		events = append(events, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"kind":         str(string(ev.Kind)),
			"recipient_id": num(ev.RecipientID),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":      num(r.ID),
		"aci":     optACI(r.ACI),
		"pni":     optPNI(r.PNI),
		"e164":    optE164(r.E164),
		"changed": structpb.NewBoolValue(r.Changed),
		"events":  structpb.NewListValue(&structpb.ListValue{Values: events}),
	}}
}

// RecipientToStruct converts a stored recipient.
func RecipientToStruct(r *model.Recipient) *structpb.Struct {
	if r == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":                  num(r.ID),
		"aci":                 optACI(r.ACI),
		"pni":                 optPNI(r.PNI),
		"e164":                optE164(r.E164),
		"profile_given_name":  optString(r.ProfileGivenName),
		"profile_family_name": optString(r.ProfileFamilyName),
		"is_registered":       structpb.NewBoolValue(r.IsRegistered),
		"created_at":          ts(r.CreatedAt),
		"updated_at":          ts(r.UpdatedAt),
	}}
}

// --- GetRecipient ---

// IDFromStruct reads the positive integer field "id".
func IDFromStruct(s *structpb.Struct) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("nil request")
	}
	id, err := getInt(s, "id")
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("field \"id\": must be positive")
	}
	return id, nil
}

// IDToStruct builds {"id": id}.
func IDToStruct(id int64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"id": num(id)}}
}

// --- WatchChanges ---

// ChangesToStruct wraps a committed batch as {"changes": [{table, kind, id}, ...]}.
func ChangesToStruct(cs []model.Change) *structpb.Struct {
	out := make([]*structpb.Value, 0, len(cs))
	for _, c := range cs {
		out = append(out, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"table": str(c.Table),
			"kind":  str(string(c.Kind)),
			"id":    num(c.RowID),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"changes": structpb.NewListValue(&structpb.ListValue{Values: out}),
	}}
}

// ChangesFromStruct is the client-side counterpart of ChangesToStruct.
func ChangesFromStruct(s *structpb.Struct) ([]model.Change, error) {
	lv, ok := s.GetFields()["changes"]
	if !ok {
		return nil, fmt.Errorf("field \"changes\": missing")
	}
	list := lv.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field \"changes\": want list")
	}
	out := make([]model.Change, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		item := v.GetStructValue()
		if item == nil {
			return nil, fmt.Errorf("changes[%d]: want object", i)
		}
		table, err := getString(item, "table")
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}
		kind, err := getString(item, "kind")
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}
		id, err := getInt(item, "id")
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}
		out = append(out, model.Change{Table: table, Kind: model.ChangeKind(kind), RowID: id})
	}
	return out, nil
}
