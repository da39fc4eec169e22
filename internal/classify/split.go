package classify

import (
	"strings"

	"github.com/shakram02/sqlproxy/internal/dsn"
)

// Statement is one semicolon-separated piece of the caller's input.
type Statement struct {
	// Text is the statement as written, without the terminating semicolon.
	Text string

	// Code is Text with comments blanked and string literals replaced by
	// empty placeholders, as kind's lexer would see them.
	Code string
}

// Split breaks sqlText into statements at semicolons that are outside
// string literals, quoted identifiers and comments, following the lexical
// rules of kind. Pieces holding only whitespace and comments are dropped.
func Split(kind dsn.Kind, sqlText string) []Statement {
	var stmts []Statement
	var code strings.Builder
	start := 0

	flush := func(end int) {
		if strings.TrimSpace(code.String()) != "" {
			stmts = append(stmts, Statement{
				Text: strings.TrimSpace(sqlText[start:end]),
				Code: strings.TrimSpace(code.String()),
			})
		}
		code.Reset()
	}

	lex := lexerFor(kind)
	i := 0
	n := len(sqlText)
	for i < n {
		if sqlText[i] == ';' {
			flush(i)
			i++
			start = i
			continue
		}
		i = lex(sqlText, i, &code)
	}
	flush(n)

	return stmts
}

// lexer consumes one token of sql starting at i, writes what the parser
// would see to code and returns the index after the token.
type lexer func(sql string, i int, code *strings.Builder) int

func lexerFor(kind dsn.Kind) lexer {
	switch kind {
	case dsn.MySQL:
		return lexMySQL
	case dsn.SQLite:
		return lexSQLite
	default:
		return lexPostgres
	}
}

// lexPostgres: -- and /* */ comments, '' strings with E'' backslash
// escapes, $tag$ dollar quotes and "" identifiers. No # comments.
func lexPostgres(sql string, i int, code *strings.Builder) int {
	n := len(sql)

	switch {
	case i+1 < n && sql[i] == '-' && sql[i+1] == '-':
		code.WriteByte(' ')
		return skipLine(sql, i)

	case i+1 < n && sql[i] == '/' && sql[i+1] == '*':
		code.WriteByte(' ')
		return skipBlockComment(sql, i)

	case sql[i] == '$' && (i == 0 || !isWordByte(sql[i-1])):
		if tag := dollarTag(sql[i:]); tag != "" {
			end := strings.Index(sql[i+len(tag):], tag)
			if end < 0 {
				code.WriteString("''")
				return n
			}
			code.WriteString("''")
			return i + len(tag) + end + len(tag)
		}

	case sql[i] == '\'':
		escapes := i > 0 && (sql[i-1] == 'e' || sql[i-1] == 'E') && (i == 1 || !isWordByte(sql[i-2]))
		code.WriteString("''")
		return skipQuoted(sql, i, '\'', escapes)

	case sql[i] == '"':
		code.WriteString(`""`)
		return skipQuoted(sql, i, '"', false)
	}

	code.WriteByte(sql[i])
	return i + 1
}

// lexMySQL: "-- " (dash dash then whitespace), # and /* */ comments, with
// /*! */ executable comments kept as code; '' and "" strings with
// backslash escapes; `` identifiers.
func lexMySQL(sql string, i int, code *strings.Builder) int {
	n := len(sql)

	switch {
	case i+1 < n && sql[i] == '-' && sql[i+1] == '-' && (i+2 == n || isSpace(sql[i+2]) || sql[i+2] < ' '):
		code.WriteByte(' ')
		return skipLine(sql, i)

	case sql[i] == '#':
		code.WriteByte(' ')
		return skipLine(sql, i)

	case strings.HasPrefix(sql[i:], "/*!"), strings.HasPrefix(sql[i:], "/*M!"):
		// The body runs as SQL; only the version prefix is dropped.
		j := i + strings.Index(sql[i:], "!") + 1
		for j < n && sql[j] >= '0' && sql[j] <= '9' {
			j++
		}
		code.WriteByte(' ')
		return j

	case i+1 < n && sql[i] == '*' && sql[i+1] == '/':
		// Closes an executable comment.
		code.WriteByte(' ')
		return i + 2

	case i+1 < n && sql[i] == '/' && sql[i+1] == '*':
		code.WriteByte(' ')
		return skipBlockComment(sql, i)

	case sql[i] == '\'':
		code.WriteString("''")
		return skipQuoted(sql, i, '\'', true)

	case sql[i] == '"':
		code.WriteString(`""`)
		return skipQuoted(sql, i, '"', true)

	case sql[i] == '`':
		code.WriteString("``")
		return skipQuoted(sql, i, '`', false)
	}

	code.WriteByte(sql[i])
	return i + 1
}

// lexSQLite: -- and /* */ comments, '' strings, "" `` and [] identifiers.
// No backslash escapes.
func lexSQLite(sql string, i int, code *strings.Builder) int {
	n := len(sql)

	switch {
	case i+1 < n && sql[i] == '-' && sql[i+1] == '-':
		code.WriteByte(' ')
		return skipLine(sql, i)

	case i+1 < n && sql[i] == '/' && sql[i+1] == '*':
		code.WriteByte(' ')
		return skipBlockComment(sql, i)

	case sql[i] == '\'':
		code.WriteString("''")
		return skipQuoted(sql, i, '\'', false)

	case sql[i] == '"':
		code.WriteString(`""`)
		return skipQuoted(sql, i, '"', false)

	case sql[i] == '`':
		code.WriteString("``")
		return skipQuoted(sql, i, '`', false)

	case sql[i] == '[':
		code.WriteString("[]")
		end := strings.IndexByte(sql[i:], ']')
		if end < 0 {
			return n
		}
		return i + end + 1
	}

	code.WriteByte(sql[i])
	return i + 1
}

func skipLine(sql string, i int) int {
	for i < len(sql) && sql[i] != '\n' {
		i++
	}
	return i
}

func skipBlockComment(sql string, i int) int {
	end := strings.Index(sql[i+2:], "*/")
	if end < 0 {
		return len(sql)
	}
	return i + 2 + end + 2
}

// skipQuoted returns the index after the literal opened by quote at i. A
// doubled quote is an escaped quote; with backslashes set, \x escapes x.
// An unterminated literal runs to the end of input.
func skipQuoted(sql string, i int, quote byte, backslashes bool) int {
	n := len(sql)
	i++
	for i < n {
		switch {
		case backslashes && sql[i] == '\\' && i+1 < n:
			i += 2
		case sql[i] == quote && i+1 < n && sql[i+1] == quote:
			i += 2
		case sql[i] == quote:
			return i + 1
		default:
			i++
		}
	}
	return n
}

// dollarTag returns the opening $tag$ or $$ at the start of s, or "".
func dollarTag(s string) string {
	j := 1
	for j < len(s) && isWordByte(s[j]) {
		if j == 1 && s[j] >= '0' && s[j] <= '9' {
			return ""
		}
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1]
	}
	return ""
}
