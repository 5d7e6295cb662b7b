package probe

import (
	"encoding/json"
	"strings"
	"unicode"
)

// CleanText prepares server supplied text for storage: formatting codes and
// control characters other than newline and tab are removed, invalid UTF-8 is
// dropped and surrounding space is trimmed.
func CleanText(s string) string {
	s = strings.ToValidUTF8(StripFormatting(s), "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// StripFormatting removes legacy "§x" formatting codes.
func StripFormatting(s string) string {
	if !strings.ContainsRune(s, '§') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '§' && i+1 < len(runes) && runes[i+1] >= ' ' && runes[i+1] <= '~' {
			i++
			continue
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

// chatComponent is the JSON text format used for server descriptions.
type chatComponent struct {
	Text      string            `json:"text"`
	Translate string            `json:"translate"`
	Extra     []json.RawMessage `json:"extra"`
}

// descriptionText flattens a description that is either a plain string or a
// chat component with nested extras.
func descriptionText(raw json.RawMessage) string {
	var b strings.Builder
	flattenComponent(raw, &b, 0)
	return b.String()
}

const maxComponentDepth = 32

func flattenComponent(raw json.RawMessage, b *strings.Builder, depth int) {
	if len(raw) == 0 || depth > maxComponentDepth {
		return
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		b.WriteString(s)
		return
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			flattenComponent(item, b, depth+1)
		}
		return
	}

	var c chatComponent
	if err := json.Unmarshal(raw, &c); err != nil {
		return
	}
	if c.Text != "" {
		b.WriteString(c.Text)
	} else {
		b.WriteString(c.Translate)
	}
	for _, extra := range c.Extra {
		flattenComponent(extra, b, depth+1)
	}
}
