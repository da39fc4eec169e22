// Package classify assigns SQL statements to the categories used for
// permission gating and result shaping. Only the leading keyword is
// inspected; statement validity is left to the database.
package classify

import "strings"

// Category is the intent of a statement as judged by its leading keyword.
type Category int

const (
	Other Category = iota
	Select
	Insert
	Update
	Delete
	DDL
)

// String returns the upper-case category name.
func (c Category) String() string {
	switch c {
	case Select:
		return "SELECT"
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	case DDL:
		return "DDL"
	default:
		return "OTHER"
	}
}

// MarshalText renders the category by name in JSON payloads.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// IsWrite reports whether the category is a data mutation.
func (c Category) IsWrite() bool {
	return c == Insert || c == Update || c == Delete
}

var keywords = map[string]Category{
	"SELECT":   Select,
	"INSERT":   Insert,
	"UPDATE":   Update,
	"DELETE":   Delete,
	"CREATE":   DDL,
	"DROP":     DDL,
	"ALTER":    DDL,
	"TRUNCATE": DDL,
	"RENAME":   DDL,
}

// Classify returns the category of sqlText.
func Classify(sqlText string) Category {
	if c, ok := keywords[strings.ToUpper(LeadingKeyword(sqlText))]; ok {
		return c
	}
	return Other
}

// LeadingKeyword returns the first word of sqlText after skipping
// whitespace, comments and opening parentheses.
func LeadingKeyword(sqlText string) string {
	rest := skipPreamble(sqlText)
	end := 0
	for end < len(rest) && isWordByte(rest[end]) {
		end++
	}
	return rest[:end]
}

// skipPreamble drops everything in front of the first keyword. Comment
// syntax is the union of what postgres, mysql and sqlite accept.
func skipPreamble(sql string) string {
	i := 0
	n := len(sql)

	for i < n {
		switch {
		case isSpace(sql[i]) || sql[i] == '(':
			i++

		// Single-line comment starting with --
		case i+1 < n && sql[i] == '-' && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}

		// Single-line comment starting with # (MySQL)
		case sql[i] == '#':
			for i < n && sql[i] != '\n' {
				i++
			}

		// Multi-line comment /* */
		case i+1 < n && sql[i] == '/' && sql[i+1] == '*':
			i += 2
			for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i += 2

		default:
			return sql[i:]
		}
	}

	return ""
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
