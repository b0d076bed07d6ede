package job

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLogBytes caps the stored log text of a job.
const DefaultMaxLogBytes = 50000

// DeriveCommand builds "<base> --k1 v1 --k2 v2" from params in insertion order.
// An empty Params yields base unchanged.
func DeriveCommand(base string, params Params) string {
	var b strings.Builder
	b.WriteString(base)
	params.Each(func(key string, value json.RawMessage) {
		b.WriteString(" --")
		b.WriteString(key)
		b.WriteByte(' ')
		b.WriteString(valueText(value))
	})
	return strings.TrimSpace(b.String())
}

// ParamEnv returns the environment variable name carrying param key into the container.
func ParamEnv(key string) string {
	var b strings.Builder
	b.WriteString("PARAM_")
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// AppendLog appends chunk to existing and keeps at most max bytes, dropping
// the oldest text first. The cut never lands inside a UTF-8 sequence and
// invalid bytes in chunk are discarded. max <= 0 disables the cap.
func AppendLog(existing, chunk string, max int) string {
	combined := existing + strings.ToValidUTF8(chunk, "")
	if max <= 0 || len(combined) <= max {
		return combined
	}
	cut := len(combined) - max
	for cut < len(combined) && !utf8.RuneStart(combined[cut]) {
		cut++
	}
	return combined[cut:]
}
