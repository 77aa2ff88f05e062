// Package cqlscript splits CQL script text into executable statements.
package cqlscript

import "strings"

type state int

const (
	stNormal state = iota
	stSingle
	stDouble
	stDollar
	stLineComment
	stBlockComment
)

// Split breaks src into statements on ';'. Delimiters inside quoted strings,
// quoted identifiers and $$ blocks are ignored. Comments are stripped, so a
// fragment holding only comments yields nothing. A trailing statement without
// a delimiter is kept.
func Split(src string) []string {
	var (
		out []string
		cur strings.Builder
		st  = stNormal
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	peek := func(i int) byte {
		if i+1 < len(src) {
			return src[i+1]
		}
		return 0
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch st {
		case stLineComment:
			if c == '\n' {
				cur.WriteByte('\n')
				st = stNormal
			}
			continue
		case stBlockComment:
			if c == '*' && peek(i) == '/' {
				i++
				cur.WriteByte(' ')
				st = stNormal
			}
			continue
		case stSingle:
			cur.WriteByte(c)
			if c == '\'' {
				st = stNormal
			}
			continue
		case stDouble:
			cur.WriteByte(c)
			if c == '"' {
				st = stNormal
			}
			continue
		case stDollar:
			cur.WriteByte(c)
			if c == '$' && peek(i) == '$' {
				i++
				cur.WriteByte('$')
				st = stNormal
			}
			continue
		}

		switch {
		case c == '-' && peek(i) == '-', c == '/' && peek(i) == '/':
			i++
			st = stLineComment
		case c == '/' && peek(i) == '*':
			i++
			st = stBlockComment
		case c == '$' && peek(i) == '$':
			i++
			cur.WriteString("$$")
			st = stDollar
		case c == '\'':
			cur.WriteByte(c)
			st = stSingle
		case c == '"':
			cur.WriteByte(c)
			st = stDouble
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}
