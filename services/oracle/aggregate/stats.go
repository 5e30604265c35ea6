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
// This file holds the small numeric routines: means, percentile
// bootstrap, and cosine dispersion. Everything guards divisions against
// zero and clamps sqrt inputs to non-negative.
package aggregate

import (
	"math"
	"math/rand"
	"sort"
)

// defaultBootstrapResamples is B for the percentile bootstrap.
const defaultBootstrapResamples = 1000

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// bootstrapCI returns the [p2.5, p97.5] nonparametric percentile interval
// of the sample mean, from b resamples of size len(xs) with replacement.
//
// A nil rng draws from an unseeded source; pass a seeded rng for
// reproducible intervals. With one observation the interval collapses to
// (v, v).
func bootstrapCI(xs []float64, b int, rng *rand.Rand) [2]float64 {
	switch len(xs) {
	case 0:
		return [2]float64{0, 0}
	case 1:
		return [2]float64{xs[0], xs[0]}
	}
	if b <= 0 {
		b = defaultBootstrapResamples
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	n := len(xs)
	means := make([]float64, b)
	for i := 0; i < b; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += xs[rng.Intn(n)]
		}
		means[i] = sum / float64(n)
	}
	sort.Float64s(means)
	return [2]float64{percentile(means, 0.025), percentile(means, 0.975)}
}

// percentile reads the p-quantile from sorted xs by nearest-rank with
// linear interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// cosineDispersion is the mean pairwise cosine distance over embeddings.
//
// Only embeddings of the modal dimension participate; fewer than two
// usable embeddings yield 0. Zero-norm vectors are treated as maximally
// distant from everything (distance 1) rather than dividing by zero.
func cosineDispersion(embeddings [][]float64) float64 {
	usable := modalDimension(embeddings)
	if len(usable) < 2 {
		return 0
	}
	var total float64
	var pairs int
	for i := 0; i < len(usable); i++ {
		for j := i + 1; j < len(usable); j++ {
			total += 1 - cosineSimilarity(usable[i], usable[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

// modalDimension filters embeddings to the most common non-zero
// dimension, ties broken by the smaller dimension.
func modalDimension(embeddings [][]float64) [][]float64 {
	counts := map[int]int{}
	for _, e := range embeddings {
		if len(e) > 0 {
			counts[len(e)]++
		}
	}
	bestDim, bestCount := 0, 0
	for dim, count := range counts {
		if count > bestCount || (count == bestCount && dim < bestDim) {
			bestDim, bestCount = dim, count
		}
	}
	if bestDim == 0 {
		return nil
	}
	var usable [][]float64
	for _, e := range embeddings {
		if len(e) == bestDim {
			usable = append(usable, e)
		}
	}
	return usable
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	na = math.Sqrt(math.Max(na, 0))
	nb = math.Sqrt(math.Max(nb, 0))
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (na * nb)
	// Float noise can push |sim| past 1.
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

// median returns the middle value of xs (mean of middles for even n).
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
