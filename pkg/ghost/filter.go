package ghost

import "strings"

var filterEscaper = strings.NewReplacer(`'`, `\'`, `"`, `\"`)

// EscapeFilterValue escapes quotes so value can sit inside a quoted NQL
// filter literal.
func EscapeFilterValue(value string) string {
	return filterEscaper.Replace(value)
}

// FilterEquals builds field:'value' with value escaped.
func FilterEquals(field, value string) string {
	return field + ":'" + EscapeFilterValue(value) + "'"
}

// FilterAnd joins non-empty clauses with "+".
func FilterAnd(clauses ...string) string {
	var kept []string
	for _, c := range clauses {
		if c = strings.TrimSpace(c); c != "" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, "+")
}
