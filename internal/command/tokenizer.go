// Package command holds typed command definitions, the append-only registry
// and the parser that binds raw text to a definition.
package command

import (
	"strings"
	"unicode"

	"github.com/weblate/distributor/internal/domain"
)

// Tokenize splits input on whitespace. Single and double quotes group runs
// containing whitespace, and a backslash escapes the next rune. Quotes may
// start mid-token: a"b c" is the single token "ab c".
func Tokenize(input string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)

	for _, r := range input {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			inToken = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}

	if escaped {
		return nil, &domain.ParseFailure{Kind: domain.InvalidSyntax, Reason: "trailing escape character"}
	}
	if quote != 0 {
		return nil, &domain.ParseFailure{Kind: domain.InvalidSyntax, Reason: "unterminated " + string(quote) + " quote"}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// Quote returns token in a form Tokenize reads back as the same token.
func Quote(token string) string {
	if token == "" {
		return `""`
	}
	if !strings.ContainsFunc(token, needsQuote) {
		return token
	}
	var b strings.Builder
	b.Grow(len(token) + 2)
	b.WriteByte('"')
	for _, r := range token {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

func needsQuote(r rune) bool {
	return unicode.IsSpace(r) || r == '"' || r == '\'' || r == '\\'
}
