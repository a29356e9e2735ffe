// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var chisquared1 = distuv.ChiSquared{K: 1}

// lrtPValue returns the likelihood ratio test p-value for one extra
// parameter. A negative statistic (alternative fits worse than null,
// which only happens through rounding) counts as 0.
func lrtPValue(llNull, llAlt float64) float64 {
	stat := 2 * (llAlt - llNull)
	if !(stat > 0) {
		return 1
	}
	p := chisquared1.Survival(stat)
	return math.Max(0, math.Min(1, p))
}
