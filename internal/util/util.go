// Package util provides text helpers shared by the command surfaces.
package util

import "strings"

// SplitFields splits a command line on whitespace. A field wrapped in double
// quotes may contain spaces and uses "" for a literal quote. An unterminated
// quote runs to the end of the line.
func SplitFields(line string) []string {
	var (
		fields  []string
		cur     strings.Builder
		inField bool
		quoted  bool
	)
	flush := func() {
		if inField {
			fields = append(fields, cur.String())
		}
		cur.Reset()
		inField, quoted = false, false
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quoted && c == '"':
			if i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i++
				continue
			}
			quoted = false
		case quoted:
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			flush()
		case c == '"' && !inField:
			inField, quoted = true, true
		default:
			inField = true
			cur.WriteByte(c)
		}
	}
	flush()
	return fields
}
