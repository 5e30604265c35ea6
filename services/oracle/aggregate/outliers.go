// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate turns persisted miner responses into per-claim and
// overall metrics with defined statistical meaning.
//
// This file implements score-vector outlier detection. With more rows
// than score dimensions the detector is MAD-scaled Mahalanobis distance
// at a 2.5 cutoff over the regularized sample covariance; with n <= 4 it
// falls back to per-column z-scores at 2.0, which a covariance estimate
// that thin cannot improve on.
package aggregate

import "math"

const (
	scoreDims = 4

	// covarianceEpsilon regularizes the sample covariance diagonal.
	covarianceEpsilon = 1e-6

	// madCutoff flags rows whose MAD-scaled Mahalanobis deviation
	// exceeds it.
	madCutoff = 2.5

	// zscoreCutoff is the per-column fallback threshold.
	zscoreCutoff = 2.0

	// madFloor guards the MAD division when most distances coincide.
	madFloor = 1e-12
)

// detectOutliers returns the row indexes flagged as outliers in the
// (n, 4) score matrix.
func detectOutliers(rows [][4]float64) []int {
	n := len(rows)
	if n < 3 {
		return nil
	}
	if n <= scoreDims {
		return zscoreOutliers(rows)
	}
	return mahalanobisOutliers(rows)
}

// =============================================================================
// Mahalanobis path (n > 4)
// =============================================================================

func mahalanobisOutliers(rows [][4]float64) []int {
	n := len(rows)

	var mu [scoreDims]float64
	for _, r := range rows {
		for j := 0; j < scoreDims; j++ {
			mu[j] += r[j]
		}
	}
	for j := 0; j < scoreDims; j++ {
		mu[j] /= float64(n)
	}

	// Sample covariance with diagonal regularization.
	var cov [scoreDims][scoreDims]float64
	for _, r := range rows {
		for a := 0; a < scoreDims; a++ {
			for b := 0; b < scoreDims; b++ {
				cov[a][b] += (r[a] - mu[a]) * (r[b] - mu[b])
			}
		}
	}
	for a := 0; a < scoreDims; a++ {
		for b := 0; b < scoreDims; b++ {
			cov[a][b] /= float64(n - 1)
		}
		cov[a][a] += covarianceEpsilon
	}

	inv, ok := invert4(cov)
	if !ok {
		inv = pseudoInverse4(cov)
	}

	dists := make([]float64, n)
	for i, r := range rows {
		var diff [scoreDims]float64
		for j := 0; j < scoreDims; j++ {
			diff[j] = r[j] - mu[j]
		}
		var q float64
		for a := 0; a < scoreDims; a++ {
			for b := 0; b < scoreDims; b++ {
				q += diff[a] * inv[a][b] * diff[b]
			}
		}
		dists[i] = math.Sqrt(math.Max(q, 0))
	}

	med := median(dists)
	absDev := make([]float64, n)
	for i, d := range dists {
		absDev[i] = math.Abs(d - med)
	}
	mad := median(absDev)
	if mad < madFloor {
		mad = madFloor
	}

	var flagged []int
	for i, d := range dists {
		if (d-med)/mad > madCutoff {
			flagged = append(flagged, i)
		}
	}
	return flagged
}

// =============================================================================
// Z-score fallback (3 <= n <= 4)
// =============================================================================

func zscoreOutliers(rows [][4]float64) []int {
	n := len(rows)
	flaggedSet := map[int]bool{}
	for j := 0; j < scoreDims; j++ {
		col := make([]float64, n)
		for i, r := range rows {
			col[i] = r[j]
		}
		mu := mean(col)
		var variance float64
		for _, v := range col {
			variance += (v - mu) * (v - mu)
		}
		variance /= float64(n - 1)
		sd := math.Sqrt(math.Max(variance, 0))
		if sd == 0 {
			continue
		}
		for i, v := range col {
			if math.Abs(v-mu)/sd > zscoreCutoff {
				flaggedSet[i] = true
			}
		}
	}
	var flagged []int
	for i := 0; i < n; i++ {
		if flaggedSet[i] {
			flagged = append(flagged, i)
		}
	}
	return flagged
}

// =============================================================================
// 4x4 linear algebra
// =============================================================================

// invert4 inverts a 4x4 matrix by Gauss-Jordan elimination with partial
// pivoting. Returns ok=false when a pivot collapses.
func invert4(m [scoreDims][scoreDims]float64) ([scoreDims][scoreDims]float64, bool) {
	var aug [scoreDims][2 * scoreDims]float64
	for i := 0; i < scoreDims; i++ {
		for j := 0; j < scoreDims; j++ {
			aug[i][j] = m[i][j]
		}
		aug[i][scoreDims+i] = 1
	}

	for col := 0; col < scoreDims; col++ {
		pivot := col
		for r := col + 1; r < scoreDims; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(aug[pivot][col]) < 1e-12 {
			var zero [scoreDims][scoreDims]float64
			return zero, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		pv := aug[col][col]
		for j := 0; j < 2*scoreDims; j++ {
			aug[col][j] /= pv
		}
		for r := 0; r < scoreDims; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			for j := 0; j < 2*scoreDims; j++ {
				aug[r][j] -= factor * aug[col][j]
			}
		}
	}

	var inv [scoreDims][scoreDims]float64
	for i := 0; i < scoreDims; i++ {
		for j := 0; j < scoreDims; j++ {
			inv[i][j] = aug[i][scoreDims+j]
		}
	}
	return inv, true
}

// pseudoInverse4 computes the Moore-Penrose pseudo-inverse of a symmetric
// 4x4 matrix through Jacobi eigendecomposition, zeroing reciprocal
// eigenvalues below tolerance.
func pseudoInverse4(m [scoreDims][scoreDims]float64) [scoreDims][scoreDims]float64 {
	a := m
	var v [scoreDims][scoreDims]float64
	for i := 0; i < scoreDims; i++ {
		v[i][i] = 1
	}

	for sweep := 0; sweep < 50; sweep++ {
		var off float64
		for p := 0; p < scoreDims; p++ {
			for q := p + 1; q < scoreDims; q++ {
				off += a[p][q] * a[p][q]
			}
		}
		if off < 1e-18 {
			break
		}
		for p := 0; p < scoreDims; p++ {
			for q := p + 1; q < scoreDims; q++ {
				if math.Abs(a[p][q]) < 1e-18 {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * a[p][q])
				t := 1 / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				if theta < 0 {
					t = -t
				}
				c := 1 / math.Sqrt(t*t+1)
				s := t * c
				for k := 0; k < scoreDims; k++ {
					akp, akq := a[k][p], a[k][q]
					a[k][p] = c*akp - s*akq
					a[k][q] = s*akp + c*akq
				}
				for k := 0; k < scoreDims; k++ {
					apk, aqk := a[p][k], a[q][k]
					a[p][k] = c*apk - s*aqk
					a[q][k] = s*apk + c*aqk
				}
				for k := 0; k < scoreDims; k++ {
					vkp, vkq := v[k][p], v[k][q]
					v[k][p] = c*vkp - s*vkq
					v[k][q] = s*vkp + c*vkq
				}
			}
		}
	}

	const tol = 1e-10
	var recip [scoreDims]float64
	for i := 0; i < scoreDims; i++ {
		if math.Abs(a[i][i]) > tol {
			recip[i] = 1 / a[i][i]
		}
	}

	var pinv [scoreDims][scoreDims]float64
	for i := 0; i < scoreDims; i++ {
		for j := 0; j < scoreDims; j++ {
			var sum float64
			for k := 0; k < scoreDims; k++ {
				sum += v[i][k] * recip[k] * v[j][k]
			}
			pinv[i][j] = sum
		}
	}
	return pinv
}
