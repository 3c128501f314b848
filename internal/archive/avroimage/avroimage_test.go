// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package avroimage

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	items := []Item{
		{Id: 1, Value: []byte{0x01, 0x02, 0x03}},
		{Id: 2, Value: []byte{}},
		{Id: 42, Value: []byte("hello")},
	}
	enc, err := Encode(items)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(dec) != len(items) {
		t.Fatalf("Decode returned %d items, want %d", len(dec), len(items))
	}
	for i, it := range items {
		if dec[i].Id != it.Id {
			t.Errorf("item %d: Id = %d, want %d", i, dec[i].Id, it.Id)
		}
		if !bytes.Equal(dec[i].Value, it.Value) {
			t.Errorf("item %d: Value = %v, want %v", i, dec[i].Value, it.Value)
		}
	}
}

func TestEncodeDecodeEmpty(t *testing.T) {
	enc, err := Encode(nil)
	if err != nil {
		t.Fatalf("Encode(nil): %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(dec) != 0 {
		t.Fatalf("Decode of empty image = %d items, want 0", len(dec))
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatalf("Decode of garbage bytes should fail")
	}
}
