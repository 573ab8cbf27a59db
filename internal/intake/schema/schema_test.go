package schema

import (
	"encoding/json"
	"math"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

func TestParseTri(t *testing.T) {
	tests := []struct {
		in   any
		want Tri
	}{
		{nil, Unset},
		{true, Yes},
		{false, No},
		{"true", Yes},
		{"false", No},
		{"Oui", Yes},
		{"non", No},
		{"", Unset},
		{float64(1), Yes},
		{float64(0), No},
		{json.Number("1"), Yes},
		{Yes, Yes},
	}
	for _, tt := range tests {
		got, err := ParseTri(tt.in)
		if err != nil {
			t.Errorf("ParseTri(%#v) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTri(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseTri(float64(2)); err == nil {
		t.Error("expected error for 2")
	}
	if _, err := ParseTri("maybe"); err == nil {
		t.Error("expected error for maybe")
	}
}

func TestTri_Wire(t *testing.T) {
	if Yes.Wire() != true || No.Wire() != false || Unset.Wire() != nil {
		t.Errorf("unexpected wire values: %v %v %v", Yes.Wire(), No.Wire(), Unset.Wire())
	}
}

func TestParseCode(t *testing.T) {
	n, ok, err := ParseCode(float64(-1))
	if err != nil || !ok || n != -1 {
		t.Errorf("ParseCode(-1) = %d, %v, %v", n, ok, err)
	}
	n, ok, err = ParseCode("3")
	if err != nil || !ok || n != 3 {
		t.Errorf("ParseCode(\"3\") = %d, %v, %v", n, ok, err)
	}
	if _, ok, _ := ParseCode(""); ok {
		t.Error("empty string should be unset")
	}
	if _, _, err := ParseCode(1.5); err == nil {
		t.Error("expected error for fractional code")
	}
}

func TestParseOptions(t *testing.T) {
	var raw []any
	if err := json.Unmarshal([]byte(`[{"id":1,"selected":true},{"id":2,"selected":null},{"id":-1,"selected":"false"}]`), &raw); err != nil {
		t.Fatal(err)
	}
	got, err := ParseOptions(raw)
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	yes, no := true, false
	want := []Option{{ID: 1, Selected: &yes}, {ID: 2}, {ID: -1, Selected: &no}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestDefault_Sections(t *testing.T) {
	reg := Default()
	var names []string
	for _, s := range reg.Sections() {
		names = append(names, s.Name)
	}
	want := []string{"structureInfo", "tobaccoAlcohol", "substanceUse", "behaviorsAndTests", "comorbidities", "spaDeaths"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}

	info, _ := reg.Section("structureInfo")
	if !info.Conditional("ongStructureId") {
		t.Error("ongStructureId should be conditional")
	}
	if info.Conditional("sector") {
		t.Error("sector should not be conditional")
	}
	f, ok := info.Field("originOfDemandSetUuidOriginOfDemands")
	if !ok || f.Kind != KindOptions || f.Other != "otherOriginOfDemand" {
		t.Errorf("unexpected origin of demand field: %+v", f)
	}
}

func TestField_NormalizeAndCheck(t *testing.T) {
	reg := Default()
	ta, _ := reg.Section("tobaccoAlcohol")
	age, _ := ta.Field("ageOfTobaccoConsumption")

	v, err := age.Normalize("15")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if v.(float64) != 15 {
		t.Errorf("expected 15, got %v", v)
	}
	if msg := age.Check(v); msg != "" {
		t.Errorf("unexpected message %q", msg)
	}
	if msg := age.Check(float64(130)); msg == "" {
		t.Error("expected range error for 130")
	}
	for _, raw := range []any{"NaN", "Inf", "+Inf", "-inf", math.NaN(), math.Inf(1)} {
		if v, err := age.Normalize(raw); err == nil {
			t.Errorf("Normalize(%v) = %v, want an error", raw, v)
		}
	}

	info, _ := reg.Section("structureInfo")
	date, _ := info.Field("consultationDate")
	v, err = date.Normalize("2024-03-01T10:00:00Z")
	if err != nil || v != "2024-03-01" {
		t.Errorf("Normalize(RFC3339) = %v, %v", v, err)
	}
	if _, err := date.Normalize("01/03/2024"); err == nil {
		t.Error("expected error for non-ISO date")
	}

	pid, _ := info.Field("patientId")
	if msg := pid.Check("P 01"); msg == "" {
		t.Error("expected pattern failure for patient id with a space")
	}

	sector, _ := info.Field("sector")
	if msg := sector.Check(9); msg == "" {
		t.Error("expected unknown choice for sector 9")
	}
	for _, raw := range []any{float64(1e20), float64(-1e20), "99999999999", json.Number("1e30")} {
		if v, err := sector.Normalize(raw); err == nil {
			t.Errorf("Normalize(%v) = %v, want an error", raw, v)
		}
	}

	tri, _ := info.Field("oldConsultancy")
	v, err = tri.Normalize("false")
	if err != nil || v != No {
		t.Errorf("Normalize(\"false\") = %v, %v", v, err)
	}
	if tri.Wire(v) != false {
		t.Errorf("expected wire false, got %v", tri.Wire(v))
	}
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"form.yaml": {Data: []byte(`
sections:
  - name: a
    fields:
      - {name: x, kind: tri, required: true}
      - {name: y, kind: text}
    rules:
      - {when: {field: x, op: yes}, require: [y]}
`)},
		"bad.yaml": {Data: []byte(`
sections:
  - name: a
    fields:
      - {name: x, kind: colour}
`)},
	}

	reg, err := LoadFS(fsys, "form.yaml")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	sec, ok := reg.Section("a")
	if !ok || !sec.Conditional("y") {
		t.Fatalf("expected section a with conditional y")
	}

	if _, err := LoadFS(fsys, "bad.yaml"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := LoadFS(fsys, "missing.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
