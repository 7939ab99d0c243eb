package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValueOfSupportedKinds(t *testing.T) {
	cases := []struct {
		in   any
		kind ValueKind
	}{
		{"newValue", KindString},
		{42, KindInt},
		{int64(593920000000), KindInt},
		{uint32(7), KindInt},
		{1.5, KindFloat},
		{float32(2.5), KindFloat},
		{true, KindBool},
		{json.Number("12"), KindInt},
		{json.Number("12.5"), KindFloat},
	}
	for _, tc := range cases {
		v, err := ValueOf(tc.in)
		if err != nil {
			t.Fatalf("ValueOf(%v): %v", tc.in, err)
		}
		if v.Kind() != tc.kind {
			t.Fatalf("ValueOf(%v): expected kind %s, got %s", tc.in, tc.kind, v.Kind())
		}
	}
}

func TestValueOfRejectsNonScalars(t *testing.T) {
	for _, in := range []any{nil, []string{"a"}, map[string]any{"a": 1}, struct{}{}, uint64(1 << 63), Value{}} {
		if _, err := ValueOf(in); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("ValueOf(%#v): expected invalid argument, got %v", in, err)
		}
	}
}

func TestPropertiesFromRejectsEmptyKey(t *testing.T) {
	if _, err := PropertiesFrom(map[string]any{" ": "x"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for blank key, got %v", err)
	}
	var argErr ArgumentError
	_, err := PropertiesFrom(map[string]any{"nested": map[string]any{}})
	if !errors.As(err, &argErr) || argErr.Field != "properties.nested" {
		t.Fatalf("expected field-scoped argument error, got %v", err)
	}
}

func TestPropertySetMergeOverwritesAndKeeps(t *testing.T) {
	old := PropertySet{"key": String("initialValue"), "owner": String("ops")}
	merged := old.Merge(PropertySet{"key": String("newValue")})
	if s, _ := merged["key"].AsString(); s != "newValue" {
		t.Fatalf("expected patched key, got %v", merged["key"])
	}
	if s, _ := merged["owner"].AsString(); s != "ops" {
		t.Fatalf("expected carried key, got %v", merged["owner"])
	}
	if s, _ := old["key"].AsString(); s != "initialValue" {
		t.Fatalf("merge must not mutate the receiver")
	}
	if got := merged.Keys(); len(got) != 2 || got[0] != "key" || got[1] != "owner" {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestPropertySetJSONKeepsKinds(t *testing.T) {
	in := PropertySet{
		"s": String("x"),
		"i": Int(2),
		"f": Float(2),
		"b": Bool(false),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out PropertySet
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !in.Equal(out) {
		t.Fatalf("round trip changed the set: %s", data)
	}
	if out["f"].Kind() != KindFloat {
		t.Fatalf("float with integral value must stay a float")
	}
}

func TestValueUnmarshalRejectsUntagged(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{}`), &v); err == nil {
		t.Fatalf("expected error for untagged value")
	}
	if _, err := json.Marshal(Value{}); err == nil {
		t.Fatalf("expected error marshalling invalid value")
	}
}

func TestNormalizeLabels(t *testing.T) {
	got := NormalizeLabels([]Label{"State", "", "Error", "State"})
	if len(got) != 2 || got[0] != "Error" || got[1] != "State" {
		t.Fatalf("unexpected labels %v", got)
	}
	n := Node{Labels: got}
	if !n.HasLabel("Error") || n.HasLabel(LabelEntity) {
		t.Fatalf("HasLabel mismatch for %v", got)
	}
}
