// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package glob implements compiled Unix-style patterns over absolute paths,
// as used by the recorder's spec list (§3 "Glob").
package glob

import (
	"path/filepath"
	"strings"

	"github.com/nhr-fau/netpub/internal/path"
)

// Kind distinguishes a glob that only ever matches a fixed depth below its
// base ("/a/*/cpu") from one that recurses arbitrarily ("/a/**").
type Kind int

const (
	OneLevel Kind = iota
	Subtree
)

// Glob is a compiled pattern with a statically computed literal prefix.
type Glob struct {
	raw      string
	base     path.Path
	kind     Kind
	perDepth []string // OneLevel: one shell pattern per path component
	subtree  string   // Subtree: the single pattern applied to the remainder
}

// Compile parses pattern into a Glob. A component of "**" anywhere switches
// the glob to Subtree mode for everything from that point on; otherwise it
// is OneLevel, with one filepath.Match-compatible pattern per component.
func Compile(pattern string) (*Glob, bool) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, false
	}

	comps := strings.Split(strings.Trim(pattern, "/"), "/")
	var baseParts []string
	i := 0
	for ; i < len(comps); i++ {
		if hasWildcard(comps[i]) {
			break
		}
		baseParts = append(baseParts, comps[i])
	}

	base := path.Path("/" + strings.Join(baseParts, "/"))
	if len(baseParts) == 0 {
		base = path.Root
	}

	for _, c := range comps[i:] {
		if c == "**" {
			return &Glob{
				raw:     pattern,
				base:    base,
				kind:    Subtree,
				subtree: strings.Join(comps[i:], "/"),
			}, true
		}
	}

	return &Glob{
		raw:      pattern,
		base:     base,
		kind:     OneLevel,
		perDepth: append([]string(nil), comps[i:]...),
	}, true
}

func hasWildcard(comp string) bool {
	return strings.ContainsAny(comp, "*?[") || comp == "**"
}

// Base returns the longest literal (wildcard-free) prefix of the pattern.
func (g *Glob) Base() path.Path { return g.base }

// Kind reports whether the glob is OneLevel or Subtree.
func (g *Glob) Kind() Kind { return g.kind }

// String returns the original pattern text.
func (g *Glob) String() string { return g.raw }

// Match reports whether p matches the compiled pattern.
func (g *Glob) Match(p path.Path) bool {
	if !g.base.IsParent(p) {
		return false
	}

	rest := strings.TrimPrefix(string(p), string(g.base))
	rest = strings.Trim(rest, "/")

	if g.kind == Subtree {
		return matchSubtree(g.subtree, rest)
	}

	if rest == "" {
		return len(g.perDepth) == 0
	}

	comps := strings.Split(rest, "/")
	if len(comps) != len(g.perDepth) {
		return false
	}
	for i, pat := range g.perDepth {
		ok, err := filepath.Match(pat, comps[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func matchSubtree(pattern, rest string) bool {
	patComps := strings.Split(pattern, "/")
	restComps := strings.Split(rest, "/")
	return matchSubtreeComps(patComps, restComps)
}

func matchSubtreeComps(pat, rest []string) bool {
	if len(pat) == 0 {
		return len(rest) == 0
	}
	if pat[0] == "**" {
		if len(pat) == 1 {
			return true
		}
		for i := 0; i <= len(rest); i++ {
			if matchSubtreeComps(pat[1:], rest[i:]) {
				return true
			}
		}
		return false
	}
	if len(rest) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], rest[0])
	if err != nil || !ok {
		return false
	}
	return matchSubtreeComps(pat[1:], rest[1:])
}
