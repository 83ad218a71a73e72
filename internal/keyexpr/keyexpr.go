// Package keyexpr validates and matches slash separated key expressions.
//
// A key is a sequence of non-empty chunks separated by '/'. An expression may
// additionally use '*' to match exactly one chunk and '**' to match zero or
// more chunks. Wildcards must occupy a whole chunk.
package keyexpr

import (
	"fmt"
	"strings"
)

const (
	wildOne  = "*"
	wildMany = "**"
)

// Validate checks expr is a well formed key expression.
func Validate(expr string) error {
	return validate(expr, true)
}

// ValidateKey checks key is a concrete key without wildcards.
func ValidateKey(key string) error {
	return validate(key, false)
}

func validate(expr string, wildcards bool) error {
	if expr == "" {
		return fmt.Errorf("key expression is empty")
	}
	if strings.HasPrefix(expr, "/") || strings.HasSuffix(expr, "/") {
		return fmt.Errorf("key expression %q must not start or end with '/'", expr)
	}
	for _, chunk := range strings.Split(expr, "/") {
		switch {
		case chunk == "":
			return fmt.Errorf("key expression %q has an empty chunk", expr)
		case chunk == wildOne || chunk == wildMany:
			if !wildcards {
				return fmt.Errorf("key %q must not contain wildcards", expr)
			}
		case strings.ContainsAny(chunk, "*?#$"):
			return fmt.Errorf("key expression %q has invalid chunk %q", expr, chunk)
		}
	}
	return nil
}

// Match reports whether key is matched by expr. Both arguments are assumed
// valid.
func Match(expr, key string) bool {
	if expr == key {
		return true
	}
	return matchChunks(strings.Split(expr, "/"), strings.Split(key, "/"))
}

func matchChunks(expr, key []string) bool {
	for len(expr) > 0 {
		head := expr[0]
		if head == wildMany {
			rest := expr[1:]
			for i := 0; i <= len(key); i++ {
				if matchChunks(rest, key[i:]) {
					return true
				}
			}
			return false
		}
		if len(key) == 0 {
			return false
		}
		if head != wildOne && head != key[0] {
			return false
		}
		expr, key = expr[1:], key[1:]
	}
	return len(key) == 0
}
