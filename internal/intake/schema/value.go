package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tri is the single encoding for every yes/no answer in the intake form.
type Tri int8

const (
	Unset Tri = iota
	Yes
	No
)

func (t Tri) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unset"
	}
}

// Wire returns the JSON value stored on a FormRecord: true, false or null.
func (t Tri) Wire() any {
	switch t {
	case Yes:
		return true
	case No:
		return false
	default:
		return nil
	}
}

// TriOf maps a bool onto Yes or No.
func TriOf(b bool) Tri {
	if b {
		return Yes
	}
	return No
}

// ParseTri accepts the encodings seen on the wire: booleans, "true"/"false",
// "oui"/"non", "1"/"0" and the numbers 1 and 0.
func ParseTri(v any) (Tri, error) {
	switch x := v.(type) {
	case nil:
		return Unset, nil
	case Tri:
		return x, nil
	case bool:
		return TriOf(x), nil
	case *bool:
		if x == nil {
			return Unset, nil
		}
		return TriOf(*x), nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "":
			return Unset, nil
		case "true", "yes", "oui", "1", "y", "o":
			return Yes, nil
		case "false", "no", "non", "0", "n":
			return No, nil
		}
	case float64:
		return triFromNumber(x)
	case int:
		return triFromNumber(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err == nil {
			return triFromNumber(f)
		}
	}
	return Unset, fmt.Errorf("expected yes or no, got %v", v)
}

func triFromNumber(f float64) (Tri, error) {
	switch f {
	case 1:
		return Yes, nil
	case 0:
		return No, nil
	}
	return Unset, fmt.Errorf("expected yes or no, got %v", f)
}

// Option is one answer inside a multi-option group. Selected is nil until
// the user answers it.
type Option struct {
	ID       int   `json:"id" yaml:"id"`
	Selected *bool `json:"selected" yaml:"selected"`
}

// OtherID is the sentinel "Other" code shared by every reference list.
const OtherID = -1

// ParseCode accepts JSON numbers, ints and numeric strings.
func ParseCode(v any) (int, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case int:
		return x, true, nil
	case int64:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, false, fmt.Errorf("code %d out of range", x)
		}
		return int(x), true, nil
	case float64:
		if x != math.Trunc(x) {
			return 0, false, fmt.Errorf("expected an integer code, got %v", x)
		}
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, false, fmt.Errorf("code %v out of range", x)
		}
		return int(x), true, nil
	case json.Number:
		n, err := x.Int64()
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false, fmt.Errorf("expected an integer code, got %s", x)
		}
		return int(n), true, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, false, fmt.Errorf("expected an integer code, got %q", x)
		}
		return int(n), true, nil
	}
	return 0, false, fmt.Errorf("expected an integer code, got %T", v)
}

// ParseNumber accepts JSON numbers, ints and numeric strings. NaN and
// infinities are rejected.
func ParseNumber(v any) (float64, bool, error) {
	f, ok, err := parseNumber(v)
	if err != nil || !ok {
		return f, ok, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("expected a number, got %v", v)
	}
	return f, true, nil
}

func parseNumber(v any) (float64, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return x, true, nil
	case int:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("expected a number, got %s", x)
		}
		return f, true, nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(x, ",", "."))
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("expected a number, got %q", x)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("expected a number, got %T", v)
}

// ParseOptions decodes a wire array of {id, selected} entries.
func ParseOptions(v any) ([]Option, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []Option:
		return append([]Option(nil), x...), nil
	case []any:
		out := make([]Option, 0, len(x))
		for i, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("option %d: expected an object", i)
			}
			id, ok, err := ParseCode(m["id"])
			if err != nil || !ok {
				return nil, fmt.Errorf("option %d: missing id", i)
			}
			opt := Option{ID: id}
			t, err := ParseTri(m["selected"])
			if err != nil {
				return nil, fmt.Errorf("option %d: %w", i, err)
			}
			if t != Unset {
				b := t == Yes
				opt.Selected = &b
			}
			out = append(out, opt)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of options, got %T", v)
}

// IsEmpty reports whether a normalised value counts as unanswered.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case Tri:
		return x == Unset
	case []Option:
		return len(x) == 0
	}
	return false
}
