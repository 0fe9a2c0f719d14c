package pairs

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleItems() []Item {
	return []Item{
		{Path: "a1", Label: 0}, {Path: "a2", Label: 0}, {Path: "a3", Label: 0},
		{Path: "b1", Label: 1}, {Path: "b2", Label: 1},
		{Path: "c1", Label: 2},
	}
}

func TestGenerateBalancedAndCorrectlyLabeled(t *testing.T) {
	items := sampleItems()
	labelOf := map[string]int{}
	for _, it := range items {
		labelOf[it.Path] = it.Label
	}
	for _, count := range []int{0, 1, 2, 7, 500} {
		out, err := Generate(items, count, 11)
		require.NoError(t, err)
		require.Len(t, out, count/2*2)
		pos := 0
		for _, p := range out {
			same := labelOf[p.ImageA] == labelOf[p.ImageB]
			if p.Label == LabelPositive {
				pos++
				assert.True(t, same, "positive pair %v", p)
			} else {
				assert.False(t, same, "negative pair %v", p)
			}
		}
		assert.Equal(t, count/2, pos)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a, err := Generate(sampleItems(), 40, 3)
	require.NoError(t, err)
	b, err := Generate(sampleItems(), 40, 3)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestGenerateErrors(t *testing.T) {
	_, err := Generate(nil, 10, 1)
	require.ErrorIs(t, err, ErrEmptyDataset)

	_, err = Generate(sampleItems(), -2, 1)
	require.ErrorIs(t, err, ErrInvalidPairCount)

	single := []Item{{Path: "x", Label: 4}, {Path: "y", Label: 4}}
	_, err = Generate(single, 10, 1)
	require.ErrorIs(t, err, ErrSingleLabel)

	// nothing requested, nothing to fail
	out, err := Generate(single, 1, 1)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestLabels(t *testing.T) {
	require.Equal(t, []int{0, 1, 2}, Labels(sampleItems()))
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestLoadDataset(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "bag1", "front.png"))
	writePNG(t, filepath.Join(root, "bag1", "side", "left.png"))
	writePNG(t, filepath.Join(root, "bag2", "front.png"))
	writePNG(t, filepath.Join(root, "loose.png"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bag2", "notes.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	writePNG(t, filepath.Join(root, ".hidden", "x.png"))

	items, err := LoadDataset(context.Background(), root, LayoutAuto)
	require.NoError(t, err)
	require.Len(t, items, 4)

	labels := map[string]int{}
	for _, it := range items {
		rel, err := filepath.Rel(root, it.Path)
		require.NoError(t, err)
		labels[rel] = it.Label
	}
	assert.Equal(t, labels["bag1/front.png"], labels[filepath.Join("bag1", "side", "left.png")])
	assert.NotEqual(t, labels["bag1/front.png"], labels["bag2/front.png"])
	assert.NotEqual(t, labels["bag2/front.png"], labels["loose.png"])
	assert.Len(t, Labels(items), 3)

	_, err = LoadDataset(context.Background(), filepath.Join(root, "missing"), LayoutBags)
	require.Error(t, err)
	_, err = LoadDataset(context.Background(), root, Layout("flat"))
	require.ErrorIs(t, err, ErrUnknownLayout)
}

func TestLoadDatasetPairedLostFound(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "lost", "bag_001.png"))
	writePNG(t, filepath.Join(root, "lost", "bag_002.png"))
	writePNG(t, filepath.Join(root, "found", "item_001.png"))
	writePNG(t, filepath.Join(root, "found", "item_002.png"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "found", "readme.txt"), []byte("x"), 0o644))

	for _, layout := range []Layout{LayoutAuto, LayoutPaired} {
		items, err := LoadDataset(context.Background(), root, layout)
		require.NoError(t, err)
		require.Len(t, items, 4)
		labels := map[string]int{}
		for _, it := range items {
			labels[filepath.Base(it.Path)] = it.Label
		}
		assert.Equal(t, labels["bag_001.png"], labels["item_001.png"])
		assert.Equal(t, labels["bag_002.png"], labels["item_002.png"])
		assert.NotEqual(t, labels["bag_001.png"], labels["bag_002.png"])
		assert.NotEqual(t, labels["item_001.png"], labels["item_002.png"])

		ps, err := Generate(items, 40, 9)
		require.NoError(t, err)
		for _, p := range ps {
			if p.Label != LabelPositive {
				continue
			}
			a, b := filepath.Base(p.ImageA), filepath.Base(p.ImageB)
			assert.Equal(t, labels[a], labels[b], "%s vs %s", a, b)
			assert.Equal(t, a[len(a)-7:], b[len(b)-7:], "positive pair spans two bags: %s vs %s", a, b)
		}
	}

	// Forcing the bag layout treats lost and found as two bags.
	items, err := LoadDataset(context.Background(), root, LayoutBags)
	require.NoError(t, err)
	assert.Len(t, Labels(items), 2)

	_, err = LoadDataset(context.Background(), t.TempDir(), LayoutPaired)
	require.Error(t, err)
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, LayoutAuto, l)
	l, err = ParseLayout(" Paired ")
	require.NoError(t, err)
	assert.Equal(t, LayoutPaired, l)
	_, err = ParseLayout("flat")
	require.ErrorIs(t, err, ErrUnknownLayout)
}

func TestManifestRoundTrip(t *testing.T) {
	out, err := Generate(sampleItems(), 20, 5)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pairs.parquet")
	require.NoError(t, WriteManifest(path, out))

	back, err := ReadManifest(path)
	require.NoError(t, err)
	require.Equal(t, out, back)
}

func TestEvaluate(t *testing.T) {
	pairs := []Pair{
		{ImageA: "a", ImageB: "a", Label: LabelPositive},
		{ImageA: "a", ImageB: "b", Label: LabelNegative},
		{ImageA: "a", ImageB: "c", Label: LabelPositive},
		{ImageA: "bad", ImageB: "b", Label: LabelNegative},
	}
	scores := map[string]float32{"aa": 1, "ab": 0.2, "ac": 0.7}
	scorer := ScorerFunc(func(ctx context.Context, a, b string) (float32, error) {
		s, ok := scores[a+b]
		if !ok {
			return 0, errors.New("cannot read image")
		}
		return s, nil
	})
	rep, err := Evaluate(context.Background(), pairs, scorer, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Total)
	assert.Equal(t, 3, rep.Scored)
	assert.Equal(t, 1, rep.Skipped)
	// 0.7 is not above the threshold, so the third pair is a miss
	assert.Equal(t, 2, rep.Correct)
	assert.InDelta(t, 2.0/3.0, rep.Accuracy, 1e-9)
	assert.Greater(t, rep.Loss, 0.0)
}
