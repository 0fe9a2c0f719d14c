// Package pairs builds balanced positive/negative image pairs for training
// and evaluating the siamese matcher.
package pairs

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

var (
	ErrEmptyDataset     = errors.New("dataset is empty")
	ErrSingleLabel      = errors.New("negative pairs need at least two distinct labels")
	ErrInvalidPairCount = errors.New("pair count must not be negative")
)

const (
	LabelNegative = 0
	LabelPositive = 1
)

// Item is one labeled image. Images of the same physical bag share a label.
type Item struct {
	Path  string
	Label int
}

type Pair struct {
	ImageA string
	ImageB string
	Label  int
}

type group struct {
	label int
	items []int
}

// index partitions items by label once so every draw is O(labels) at worst.
type index struct {
	items   []Item
	groups  []group
	byLabel map[int]int
}

func newIndex(items []Item) *index {
	idx := &index{items: items, byLabel: map[int]int{}}
	for i, it := range items {
		g, ok := idx.byLabel[it.Label]
		if !ok {
			g = len(idx.groups)
			idx.byLabel[it.Label] = g
			idx.groups = append(idx.groups, group{label: it.Label})
		}
		idx.groups[g].items = append(idx.groups[g].items, i)
	}
	return idx
}

func (idx *index) positive(rng *rand.Rand) Pair {
	a := rng.Intn(len(idx.items))
	g := idx.groups[idx.byLabel[idx.items[a].Label]]
	b := g.items[rng.Intn(len(g.items))]
	return Pair{ImageA: idx.items[a].Path, ImageB: idx.items[b].Path, Label: LabelPositive}
}

// negative draws the partner uniformly from every image outside a's group.
func (idx *index) negative(rng *rand.Rand) Pair {
	a := rng.Intn(len(idx.items))
	own := idx.byLabel[idx.items[a].Label]
	r := rng.Intn(len(idx.items) - len(idx.groups[own].items))
	var b int
	for gi, g := range idx.groups {
		if gi == own {
			continue
		}
		if r < len(g.items) {
			b = g.items[r]
			break
		}
		r -= len(g.items)
	}
	return Pair{ImageA: idx.items[a].Path, ImageB: idx.items[b].Path, Label: LabelNegative}
}

// Generate returns exactly count/2 positive and count/2 negative pairs in a
// shuffled order. The same seed yields the same pairs.
func Generate(items []Item, count int, seed int64) ([]Pair, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPairCount, count)
	}
	if len(items) == 0 {
		return nil, ErrEmptyDataset
	}
	half := count / 2
	idx := newIndex(items)
	if half > 0 && len(idx.groups) < 2 {
		return nil, ErrSingleLabel
	}
	rng := rand.New(rand.NewSource(seed))
	out := make([]Pair, 0, half*2)
	for i := 0; i < half; i++ {
		out = append(out, idx.positive(rng))
	}
	for i := 0; i < half; i++ {
		out = append(out, idx.negative(rng))
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

// Labels returns the distinct labels in ascending order.
func Labels(items []Item) []int {
	seen := map[int]struct{}{}
	for _, it := range items {
		seen[it.Label] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
