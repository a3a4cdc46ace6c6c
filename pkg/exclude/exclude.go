// Package exclude implements the Control Plane's gitignore-style exclusion
// matcher (spec.md §4.6), adapted from the teacher's pkg/pathsync exclusion
// set: literal and basename-literal fast paths backed by maps, with
// prefix/suffix/glob patterns as a fallback list. Unlike the teacher's
// matcher (which lowercases for a case-insensitive host filesystem), cpx
// targets Linux only, so matching is case-sensitive throughout.
package exclude

import (
	"path/filepath"
	"strings"

	"github.com/arvgrant/cpx/pkg/plog"
)

type matchType int

const (
	literalMatch matchType = iota
	prefixMatch
	suffixMatch
	globMatch
)

type pattern struct {
	raw           string
	clean         string
	matchType     matchType
	matchBasename bool
	dirOnly       bool
	negate        bool
}

// Matcher is a compiled set of exclusion patterns, evaluated against both
// the entry's source-root-relative path and its basename. Comma-separated
// pattern lists are split into independent patterns by the caller before
// compilation (see Split).
type Matcher struct {
	literals         map[string]struct{}
	basenameLiterals map[string]struct{}
	rest             []pattern
	anyNegate        bool
}

// Split breaks a single option value into independent patterns on commas,
// trimming surrounding whitespace and dropping empty entries.
func Split(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Compile analyzes and categorizes patterns into a Matcher. Patterns
// containing no "/" match at any depth (against the basename); a trailing
// "/" restricts the pattern to directories; a leading "!" negates a prior
// match (the last matching pattern, in list order, wins per .gitignore
// semantics).
func Compile(patterns []string) *Matcher {
	m := &Matcher{
		literals:         make(map[string]struct{}),
		basenameLiterals: make(map[string]struct{}),
	}

	shouldMatchBasename := func(p string) bool { return !strings.Contains(p, "/") }

	// With any negation present, literals must be evaluated in list order
	// too, so the map fast paths are only used when no "!" pattern exists.
	for _, raw := range patterns {
		if strings.HasPrefix(raw, "!") {
			m.anyNegate = true
		}
	}

	for _, raw := range patterns {
		p := raw
		negate := false
		if strings.HasPrefix(p, "!") {
			negate = true
			p = p[1:]
		}

		dirOnly := false
		if strings.HasSuffix(p, "/") && !strings.HasSuffix(p, "/*") {
			dirOnly = true
		}

		switch {
		case strings.ContainsAny(p, "*?["):
			switch {
			case strings.HasSuffix(p, "/*"):
				m.rest = append(m.rest, pattern{
					raw: raw, clean: strings.TrimSuffix(p, "/*"),
					matchType: prefixMatch, matchBasename: false, negate: negate,
				})
			case strings.HasSuffix(p, "*") && !strings.ContainsAny(p[:len(p)-1], "*?["):
				m.rest = append(m.rest, pattern{
					raw: raw, clean: strings.TrimSuffix(p, "*"),
					matchType: prefixMatch, matchBasename: shouldMatchBasename(p), negate: negate,
				})
			case strings.HasPrefix(p, "*") && !strings.ContainsAny(p[1:], "*?["):
				m.rest = append(m.rest, pattern{
					raw: raw, clean: p[1:],
					matchType: suffixMatch, matchBasename: shouldMatchBasename(p), negate: negate,
				})
			default:
				m.rest = append(m.rest, pattern{
					raw: raw, clean: p,
					matchType: globMatch, matchBasename: shouldMatchBasename(p), negate: negate,
				})
			}
		case dirOnly:
			m.rest = append(m.rest, pattern{
				raw: raw, clean: strings.TrimSuffix(p, "/"),
				matchType: prefixMatch, matchBasename: false, dirOnly: true, negate: negate,
			})
		case shouldMatchBasename(p):
			if m.anyNegate {
				m.rest = append(m.rest, pattern{raw: raw, clean: p, matchType: literalMatch, matchBasename: true, negate: negate})
			} else {
				m.basenameLiterals[p] = struct{}{}
			}
		default:
			if m.anyNegate {
				m.rest = append(m.rest, pattern{raw: raw, clean: p, matchType: literalMatch, matchBasename: false, negate: negate})
			} else {
				m.literals[p] = struct{}{}
			}
		}
	}
	return m
}

// Matches reports whether relPath (forward-slash, relative to the source
// root) with basename relBasename and kind isDir should be excluded.
func (m *Matcher) Matches(relPath, relBasename string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = filepath.ToSlash(relPath)

	excluded := false
	if _, ok := m.literals[relPath]; ok {
		excluded = true
	}
	if _, ok := m.basenameLiterals[relBasename]; ok {
		excluded = true
	}

	for _, p := range m.rest {
		if p.dirOnly && !isDir && !p.negate {
			continue
		}
		pathToCheck := relPath
		if p.matchBasename {
			pathToCheck = relBasename
		}

		var hit bool
		switch p.matchType {
		case literalMatch:
			hit = pathToCheck == p.clean
		case prefixMatch:
			if strings.HasPrefix(pathToCheck, p.clean) {
				if !p.matchBasename && (pathToCheck != p.clean && !strings.HasPrefix(pathToCheck, p.clean+"/")) {
					hit = false
				} else {
					hit = true
				}
			}
		case suffixMatch:
			hit = strings.HasSuffix(pathToCheck, p.clean)
		case globMatch:
			ok, err := filepath.Match(p.clean, pathToCheck)
			if err != nil {
				plog.Warn("invalid exclusion pattern", "pattern", p.clean, "error", err)
				continue
			}
			hit = ok
		}

		if hit {
			excluded = !p.negate
		}
	}
	return excluded
}
