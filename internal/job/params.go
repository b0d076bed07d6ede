package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Params is an insertion-ordered mapping of parameter names to JSON values.
// Order matters: derived commands list parameters in the order the caller sent them.
// Values keep their literal JSON text, so 1.0 is not rewritten as 1.
type Params struct {
	m *orderedmap.OrderedMap[string, json.RawMessage]
}

// NewParams returns an empty Params.
func NewParams() Params {
	return Params{m: orderedmap.New[string, json.RawMessage]()}
}

// Set stores value under key. Re-setting an existing key keeps its original position.
func (p *Params) Set(key string, value json.RawMessage) {
	if p.m == nil {
		p.m = orderedmap.New[string, json.RawMessage]()
	}
	p.m.Set(key, value)
}

// SetString stores a JSON string value.
func (p *Params) SetString(key, value string) {
	data, _ := json.Marshal(value)
	p.Set(key, data)
}

// Get returns the raw JSON value for key.
func (p Params) Get(key string) (json.RawMessage, bool) {
	if p.m == nil {
		return nil, false
	}
	return p.m.Get(key)
}

// Len returns the number of parameters.
func (p Params) Len() int {
	if p.m == nil {
		return 0
	}
	return p.m.Len()
}

// Keys returns parameter names in insertion order.
func (p Params) Keys() []string {
	keys := make([]string, 0, p.Len())
	p.Each(func(key string, _ json.RawMessage) {
		keys = append(keys, key)
	})
	return keys
}

// Each calls fn for every parameter in insertion order.
func (p Params) Each(fn func(key string, value json.RawMessage)) {
	if p.m == nil {
		return
	}
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Text renders the value for key the way it appears on a command line
// or in an environment variable: strings unquoted, everything else as
// compact JSON.
func (p Params) Text(key string) string {
	raw, ok := p.Get(key)
	if !ok {
		return ""
	}
	return valueText(raw)
}

func valueText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}

// MarshalJSON encodes Params as a JSON object in insertion order.
// An empty Params encodes as {}.
func (p Params) MarshalJSON() ([]byte, error) {
	if p.m == nil || p.m.Len() == 0 {
		return []byte("{}"), nil
	}
	return p.m.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object preserving key order. null decodes as empty.
func (p *Params) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, json.RawMessage]()
	trimmed := bytes.TrimSpace(data)
	if !bytes.Equal(trimmed, []byte("null")) {
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return fmt.Errorf("params must be a JSON object")
		}
		if err := m.UnmarshalJSON(trimmed); err != nil {
			return err
		}
	}
	p.m = m
	return nil
}
