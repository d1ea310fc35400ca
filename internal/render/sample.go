package render

import (
	"math/rand/v2"
	"sort"
)

// pcgStream decorrelates the PCG sequence from the user-visible seed.
const pcgStream = 0x9e3779b97f4a7c15

// sampleIndices returns k distinct indices in [0, n), drawn uniformly with a
// generator seeded by seed, in ascending order. k >= n returns all indices.
func sampleIndices(n, k int, seed uint64) []int {
	if k <= 0 || n <= 0 {
		return []int{}
	}
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	rng := rand.New(rand.NewPCG(seed, pcgStream))

	// Partial Fisher-Yates over a sparse permutation so memory is O(k).
	swapped := make(map[int]int, k)
	at := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}

	out := make([]int, k)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		vi, vj := at(i), at(j)
		swapped[j] = vi
		swapped[i] = vj
		out[i] = vj
	}

	sort.Ints(out)
	return out
}
