package pairs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/baggagelens/internal/imageio"
)

// Layout says how a dataset directory encodes bag identity.
type Layout string

const (
	// LayoutAuto picks LayoutPaired when root holds both lost and found
	// directories and LayoutBags otherwise.
	LayoutAuto Layout = "auto"
	// LayoutBags treats every sub-directory as one bag.
	LayoutBags Layout = "bags"
	// LayoutPaired reads root/lost and root/found; the i-th image of each,
	// in name order, show the same bag.
	LayoutPaired Layout = "paired"
)

const (
	lostDir  = "lost"
	foundDir = "found"
)

var ErrUnknownLayout = errors.New("unknown dataset layout")

func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case "", LayoutAuto:
		return LayoutAuto, nil
	case LayoutBags, LayoutPaired:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLayout, s)
	}
}

// LoadDataset reads the images under root and labels them according to
// layout. Files that do not decode are logged and skipped.
func LoadDataset(ctx context.Context, root string, layout Layout) ([]Item, error) {
	if layout == "" || layout == LayoutAuto {
		layout = detectLayout(root)
	}
	var (
		items []Item
		err   error
	)
	switch layout {
	case LayoutPaired:
		items, err = loadPaired(ctx, root)
	case LayoutBags:
		items, err = loadBags(ctx, root)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, layout)
	}
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("dataset loaded", zap.String("root", root), zap.String("layout", string(layout)),
		zap.Int("images", len(items)), zap.Int("labels", len(Labels(items))))
	return items, nil
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func detectLayout(root string) Layout {
	if isDir(filepath.Join(root, lostDir)) && isDir(filepath.Join(root, foundDir)) {
		return LayoutPaired
	}
	return LayoutBags
}

// loadPaired labels lost and found images by their position in each
// directory, so lost[i] and found[i] form the positive pairs.
func loadPaired(ctx context.Context, root string) ([]Item, error) {
	var items []Item
	for _, sub := range []string{lostDir, foundDir} {
		dir := filepath.Join(root, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read dataset dir: %w", err)
		}
		label := 0
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if !readable(ctx, path) {
				continue
			}
			items = append(items, Item{Path: path, Label: label})
			label++
		}
	}
	return items, nil
}

// loadBags walks root. Every sub-directory is one bag and all images below
// it share a label; every image directly under root is a bag of its own.
func loadBags(ctx context.Context, root string) ([]Item, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dataset dir: %w", err)
	}
	var items []Item
	label := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if !entry.IsDir() {
			if !readable(ctx, path) {
				continue
			}
			items = append(items, Item{Path: path, Label: label})
			label++
			continue
		}
		found := 0
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != path && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || !readable(ctx, p) {
				return nil
			}
			items = append(items, Item{Path: p, Label: label})
			found++
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
		if found > 0 {
			label++
		}
	}
	return items, nil
}

func readable(ctx context.Context, path string) bool {
	f, err := os.Open(path)
	if err != nil {
		logutil.GetLogger(ctx).Warn("skip unreadable image", zap.String("path", path), zap.Error(err))
		return false
	}
	defer f.Close()
	if _, _, err := imageio.Probe(f); err != nil {
		logutil.GetLogger(ctx).Warn("skip undecodable image", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}
