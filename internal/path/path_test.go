// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package path

import (
	"reflect"
	"testing"
)

func TestDirnames(t *testing.T) {
	got := Path("/a/b/c").Dirnames()
	want := []Path{"/", "/a", "/a/b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Dirnames() = %v, want %v", got, want)
	}

	if got := Path("/").Dirnames(); got != nil {
		t.Fatalf("Dirnames() on root = %v, want nil", got)
	}
}

func TestBasename(t *testing.T) {
	cases := map[Path]string{
		"/a/b/c": "c",
		"/a":     "a",
		"/":      "",
	}
	for p, want := range cases {
		if got := p.Basename(); got != want {
			t.Errorf("Basename(%q) = %q, want %q", p, got, want)
		}
	}
}

func TestIsParent(t *testing.T) {
	if !Path("/a/b").IsParent("/a/b/c") {
		t.Error("expected /a/b to be parent of /a/b/c")
	}
	if !Path("/").IsParent("/a/b/c") {
		t.Error("expected / to be parent of everything")
	}
	if Path("/a/bc").IsParent("/a/b") {
		t.Error("/a/bc must not be a parent of /a/b")
	}
	if !Path("/a/b").IsParent("/a/b") {
		t.Error("a path is its own parent")
	}
}
