// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package glob

import (
	"testing"

	"github.com/nhr-fau/netpub/internal/path"
)

func TestOneLevelMatch(t *testing.T) {
	g, ok := Compile("/cluster/*/cpu")
	if !ok {
		t.Fatal("compile failed")
	}
	if g.Base() != "/cluster" {
		t.Errorf("base = %q, want /cluster", g.Base())
	}
	if !g.Match("/cluster/node01/cpu") {
		t.Error("expected match")
	}
	if g.Match("/cluster/node01/gpu") {
		t.Error("expected no match")
	}
	if g.Match("/cluster/node01/cpu/extra") {
		t.Error("OneLevel must not match extra depth")
	}
}

func TestSubtreeMatch(t *testing.T) {
	g, ok := Compile("/cluster/**")
	if !ok {
		t.Fatal("compile failed")
	}
	if g.Kind() != Subtree {
		t.Fatal("expected Subtree kind")
	}
	for _, p := range []path.Path{"/cluster/a", "/cluster/a/b/c"} {
		if !g.Match(p) {
			t.Errorf("expected %s to match", p)
		}
	}
	if g.Match("/other/a") {
		t.Error("unexpected match outside base")
	}
}
