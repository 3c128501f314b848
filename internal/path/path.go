// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package path implements the absolute, slash-separated path type shared by
// the resolver, subscriber and archive components.
package path

import "strings"

// Path is an absolute, slash-separated, UTF-8 string. Values are immutable;
// equality is byte equality.
type Path string

// Root is the path that is the ancestor of every other path.
const Root Path = "/"

// IsAbsolute reports whether p starts with a '/'.
func (p Path) IsAbsolute() bool {
	return strings.HasPrefix(string(p), "/")
}

// Basename returns the last slash-separated component of p.
func (p Path) Basename() string {
	s := strings.TrimSuffix(string(p), "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Dirnames returns the ascending chain of prefixes of p, from Root to the
// parent of p itself, not including p. For "/a/b/c" that is
// ["/", "/a", "/a/b"].
func (p Path) Dirnames() []Path {
	s := string(p)
	if !p.IsAbsolute() || s == "/" {
		return nil
	}

	parts := strings.Split(strings.Trim(s, "/"), "/")
	out := make([]Path, 0, len(parts))
	cur := ""
	out = append(out, Root)
	for i := 0; i < len(parts)-1; i++ {
		cur += "/" + parts[i]
		out = append(out, Path(cur))
	}
	return out
}

// IsParent reports whether p is an ancestor of (or equal to) child.
func (p Path) IsParent(child Path) bool {
	ps, cs := string(p), string(child)
	if ps == "/" {
		return true
	}
	if ps == cs {
		return true
	}
	return strings.HasPrefix(cs, ps+"/")
}

// Append joins a path and a single component, normalising the separator.
func (p Path) Append(component string) Path {
	if p == Root {
		return Path("/" + component)
	}
	return Path(strings.TrimSuffix(string(p), "/") + "/" + component)
}

func (p Path) String() string { return string(p) }
