package flatcache

import "strings"

// fieldSep separates fields within a stored row.
const fieldSep = "|"

// Record is one stored row: a fixed tuple of text fields whose first field is
// the resource identifier.
type Record []string

// ID returns the identifier field, or "" for an empty record.
func (r Record) ID() string {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

// Field returns field i, or "" when out of range.
func (r Record) Field(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// encode serializes the record as a single escaped line.
func (r Record) encode() string {
	parts := make([]string, len(r))
	for i, f := range r {
		parts[i] = escapeField(f)
	}
	return strings.Join(parts, fieldSep)
}

// escapeField protects the separator, the escape character and line breaks.
func escapeField(s string) string {
	if !strings.ContainsAny(s, "\\|\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, c := range s {
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '|':
			b.WriteString(`\|`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// decodeRecord splits an escaped line into fields. It reports false for a
// dangling or unknown escape sequence.
func decodeRecord(line string) (Record, bool) {
	var (
		fields []string
		cur    strings.Builder
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch c {
		case '|':
			fields = append(fields, cur.String())
			cur.Reset()
		case '\\':
			if i+1 >= len(line) {
				return nil, false
			}
			i++
			switch line[i] {
			case '\\':
				cur.WriteByte('\\')
			case '|':
				cur.WriteByte('|')
			case 'n':
				cur.WriteByte('\n')
			case 'r':
				cur.WriteByte('\r')
			default:
				return nil, false
			}
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return Record(fields), true
}
