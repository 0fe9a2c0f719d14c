package pairs

import (
	"fmt"
	"io"
	"os"

	"github.com/google/renameio"
	"github.com/parquet-go/parquet-go"
)

type manifestRow struct {
	ImageA string `parquet:"image_a"`
	ImageB string `parquet:"image_b"`
	Label  int32  `parquet:"label"`
}

// WriteManifest stores pairs as a zstd compressed parquet file. The file is
// replaced atomically.
func WriteManifest(path string, pairs []Pair) error {
	pending, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	if err := writeRows(pending, pairs); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

func writeRows(w io.Writer, pairs []Pair) error {
	pw := parquet.NewGenericWriter[manifestRow](w, parquet.Compression(&parquet.Zstd))
	rows := make([]manifestRow, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, manifestRow{ImageA: p.ImageA, ImageB: p.ImageB, Label: int32(p.Label)})
	}
	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return fmt.Errorf("write manifest rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close manifest writer: %w", err)
	}
	return nil
}

func ReadManifest(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	pr := parquet.NewGenericReader[manifestRow](pf)
	defer pr.Close()
	rows := make([]manifestRow, pr.NumRows())
	n, err := pr.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read manifest rows: %w", err)
	}
	out := make([]Pair, 0, n)
	for _, r := range rows[:n] {
		out = append(out, Pair{ImageA: r.ImageA, ImageB: r.ImageB, Label: int(r.Label)})
	}
	return out, nil
}
