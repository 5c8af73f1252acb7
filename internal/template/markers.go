package template

import "strings"

// kind identifies one marker action.
type kind int

const (
	kindReplace kind = iota + 1 // %>name<%  whole-field replace from defs
	kindInline                  // >>name<<  inline substitution from defs
	kindBase                    // +>name<+  basename of a defs value
	kindDNS                     // *>name<*  defs value resolved to an address
	kindSecret                  // |>path:key<|  secret backend lookup
	kindArith                   // #>expr<#  arithmetic over defs values
	kindEnv                     // $>NAME<$  process environment variable
	kindMD5                     // 1>path:key<1  md5-crypt of a secret
	kindSHA256                  // 5>path:key<5  sha256-crypt of a secret
	kindSHA512                  // 6>path:key<6  sha512-crypt of a secret
	kindExpr                    // E>expr<E  conditional expression
	kindList                    // [>name<]  sequence expansion
)

type marker struct {
	kind   kind
	prefix string
	suffix string
}

// markers is the dispatch table. Every prefix is two bytes and no
// prefix is a substring of another, so a left-to-right scan finds the
// earliest marker unambiguously.
var markers = []marker{
	{kindReplace, "%>", "<%"},
	{kindInline, ">>", "<<"},
	{kindBase, "+>", "<+"},
	{kindDNS, "*>", "<*"},
	{kindSecret, "|>", "<|"},
	{kindArith, "#>", "<#"},
	{kindEnv, "$>", "<$"},
	{kindMD5, "1>", "<1"},
	{kindSHA256, "5>", "<5"},
	{kindSHA512, "6>", "<6"},
	{kindExpr, "E>", "<E"},
	{kindList, "[>", "<]"},
}

// markerAt reports the marker whose prefix starts at position i, if
// any.
func markerAt(s string, i int) (marker, bool) {
	if i+2 > len(s) {
		return marker{}, false
	}
	head := s[i : i+2]
	for _, m := range markers {
		if m.prefix == head {
			return m, true
		}
	}
	return marker{}, false
}

// validToken reports whether a marker body is a plausible reference:
// letters, digits, underscores and the path/list/key separators. The
// expression kinds carry arbitrary text and skip this check. A body
// that fails validation leaves the marker untouched, so installer
// content that merely resembles a marker passes through.
func validToken(body string) bool {
	if body == "" {
		return false
	}
	for _, r := range body {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '/' || r == ',' || r == ':' || r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}

// stripQuotes removes one layer of surrounding single or double
// quotes, which layer documents sometimes carry around marker bodies.
func stripQuotes(s string) string {
	return strings.Trim(s, `"'`)
}
