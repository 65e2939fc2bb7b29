// Package permission resolves hierarchical permission nodes against an
// immutable snapshot of groups and per-audience overrides.
package permission

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/weblate/distributor/internal/domain"
)

// Wildcard is the root node; it is the least specific ancestor of every node.
const Wildcard = "*"

// NormalizeNode lower-cases and validates a dotted node key.
// A trailing ".*" is folded into its prefix, so "a.b.*" is stored as "a.b";
// a wildcard anywhere else is rejected.
func NormalizeNode(node string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(node))
	if n == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidNode)
	}
	if n == Wildcard {
		return n, nil
	}
	n = strings.TrimSuffix(n, "."+Wildcard)
	for _, seg := range strings.Split(n, ".") {
		if seg == "" {
			return "", fmt.Errorf("%w: empty segment in %q", domain.ErrInvalidNode, node)
		}
		if strings.Contains(seg, Wildcard) {
			return "", fmt.Errorf("%w: wildcard inside %q", domain.ErrInvalidNode, node)
		}
		if strings.IndexFunc(seg, unicode.IsSpace) >= 0 {
			return "", fmt.Errorf("%w: whitespace in %q", domain.ErrInvalidNode, node)
		}
	}
	return n, nil
}

// Ancestors returns node followed by each shorter prefix, ending at Wildcard.
// The node must already be normalized.
//
//	Ancestors("a.b.c") == []string{"a.b.c", "a.b", "a", "*"}
func Ancestors(node string) []string {
	if node == Wildcard {
		return []string{Wildcard}
	}
	out := make([]string, 0, strings.Count(node, ".")+2)
	for n := node; ; {
		out = append(out, n)
		i := strings.LastIndexByte(n, '.')
		if i < 0 {
			break
		}
		n = n[:i]
	}
	return append(out, Wildcard)
}

// normalizeGroupName trims and lower-cases a group name.
func normalizeGroupName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
