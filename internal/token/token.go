// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package token gives the opaque "permission token" carried by Resolve
// replies and Subscribe requests (§3) a concrete representation. Issuing and
// verifying signatures is the resolver server's job (excluded per §1); this
// package only needs to parse and inspect tokens it is handed, so the
// subscriber can make connection-reuse and retry decisions.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a capability token: the path it authorizes, a
// permission bitmask, and an expiry.
type Claims struct {
	jwt.RegisteredClaims
	Path  string `json:"path"`
	Perms uint8  `json:"perms"`
}

// Opaque wraps the raw token string exactly as carried over the wire; the
// subscriber never constructs or signs one itself.
type Opaque string

// Inspect parses the token without verifying its signature (the subscriber
// has no key material for the resolver's signing key; it only wants the
// claims to decide whether the token is usable, not whether to trust it —
// the connection it is presented over already trusts the resolver that
// issued it).
func (o Opaque) Inspect() (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(string(o), &claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// Expired reports whether the token's exp claim is in the past. A token that
// fails to parse is treated as expired.
func (o Opaque) Expired(now time.Time) bool {
	claims, err := o.Inspect()
	if err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(now)
}
