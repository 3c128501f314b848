// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package value

import "math"

func uint32frombits(f float32) uint32    { return math.Float32bits(f) }
func float32frombits(u uint32) float32   { return math.Float32frombits(u) }
func float64bits(f float64) uint64       { return math.Float64bits(f) }
func float64frombits(u uint64) float64   { return math.Float64frombits(u) }
