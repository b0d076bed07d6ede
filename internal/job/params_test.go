package job

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParams_PreservesOrder(t *testing.T) {
	t.Parallel()
	var p Params
	input := `{"zeta": 1, "alpha": "two", "mid": 3.0, "flag": true}`
	if err := json.Unmarshal([]byte(input), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := []string{"zeta", "alpha", "mid", "flag"}
	if got := p.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"zeta":1,"alpha":"two","mid":3.0,"flag":true}` {
		t.Errorf("Marshal() = %s", out)
	}
}

func TestParams_Text(t *testing.T) {
	t.Parallel()
	var p Params
	if err := json.Unmarshal([]byte(`{"s":"hello world","n":0.25,"b":false,"list":[1, 2]}`), &p); err != nil {
		t.Fatal(err)
	}
	tests := map[string]string{
		"s":       "hello world",
		"n":       "0.25",
		"b":       "false",
		"list":    "[1,2]",
		"missing": "",
	}
	for key, want := range tests {
		if got := p.Text(key); got != want {
			t.Errorf("Text(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestParams_EmptyAndNull(t *testing.T) {
	t.Parallel()
	var zero Params
	out, err := json.Marshal(zero)
	if err != nil || string(out) != "{}" {
		t.Errorf("Marshal(zero) = %s, %v", out, err)
	}

	var p Params
	if err := json.Unmarshal([]byte("null"), &p); err != nil {
		t.Fatalf("Unmarshal(null) error = %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d", p.Len())
	}
}

func TestParams_RejectsNonObject(t *testing.T) {
	t.Parallel()
	var p Params
	if err := json.Unmarshal([]byte(`[1,2]`), &p); err == nil {
		t.Error("expected error for array")
	}
}

func TestParams_SetKeepsPosition(t *testing.T) {
	t.Parallel()
	p := NewParams()
	p.SetString("a", "1")
	p.SetString("b", "2")
	p.SetString("a", "3")
	if got := p.Keys(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Keys() = %v", got)
	}
	if p.Text("a") != "3" {
		t.Errorf("Text(a) = %q", p.Text("a"))
	}
}
