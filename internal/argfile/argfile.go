// Package argfile implements the minimal ".u4pak" argument-file tokenizer
// spec §6 describes: a shell-like grammar (comments, quoting, whitespace
// separation) used to expand one argument into many before the CLI's own
// flag parsing sees them. Subcommand dispatch proper is an external
// collaborator per spec §1's Out-of-scope list; this package only expands
// arguments ending in ".u4pak" into a flat token list, sufficient to
// exercise the core from a real CLI entry point.
package argfile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/u4pak/u4pak/internal/pakerr"
	"golang.org/x/xerrors"
)

// Expand walks args, replacing any argument ending in ".u4pak" with the
// tokens read from that file (recursively, so an argument file may itself
// reference others), and passing every other argument through unchanged.
// Paths inside an argument file are resolved relative to that file's own
// directory (spec §6).
func Expand(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		if !strings.HasSuffix(a, ".u4pak") {
			out = append(out, a)
			continue
		}
		expanded, err := expandFile(a)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func expandFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("argument file %s: %w", path, err)
	}
	tokens, err := Tokenize(string(data))
	if err != nil {
		return nil, xerrors.Errorf("argument file %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	return Expand(resolvePaths(tokens, dir))
}

// resolvePaths joins every token that looks like a relative filesystem
// path to dir, the argument file's own directory (spec §6: "paths inside
// are resolved relative to the argument file's directory"). A token is left
// untouched if it is a flag (starts with "-"), is already absolute, or has
// no path separator and does not end in ".pak" or ".u4pak" — the tokenizer has no grammar to distinguish a flag value from a path, so
// this is a best-effort heuristic, not a guarantee.
func resolvePaths(tokens []string, dir string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		if strings.HasPrefix(t, "-") || filepath.IsAbs(t) || !looksLikePath(t) {
			out[i] = t
			continue
		}
		out[i] = filepath.Join(dir, t)
	}
	return out
}

func looksLikePath(t string) bool {
	return strings.ContainsAny(t, "/\\") || strings.HasSuffix(t, ".pak") || strings.HasSuffix(t, ".u4pak")
}

// Tokenize splits s into whitespace-separated tokens per spec §6's grammar:
//   - '#' starts a line comment only when preceded by whitespace or start of
//     line;
//   - '"' quotes a token, allowing embedded whitespace and '#', with ""
//     decoding to a literal '"';
//   - any other whitespace separates tokens.
func Tokenize(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	haveToken := false
	atTokenStart := true // true at start of line/file or after whitespace

	runes := []rune(s)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case c == '#' && atTokenStart && !haveToken:
			// Line comment: skip to end of line.
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			continue
		case c == '"':
			haveToken = true
			i++
			for {
				if i >= len(runes) {
					return nil, &pakerr.Usage{Msg: "unterminated quoted string in argument file"}
				}
				if runes[i] == '"' {
					if i+1 < len(runes) && runes[i+1] == '"' {
						cur.WriteRune('"')
						i += 2
						continue
					}
					i++
					break
				}
				cur.WriteRune(runes[i])
				i++
			}
			atTokenStart = false
		case isSpace(c):
			if haveToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				haveToken = false
			}
			atTokenStart = true
			i++
		default:
			haveToken = true
			cur.WriteRune(c)
			atTokenStart = false
			i++
		}
	}
	if haveToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n':
		return true
	default:
		return false
	}
}
