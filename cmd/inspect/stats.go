package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// loaderStats summarizes the batches read from one loader.
type loaderStats struct {
	Name     string
	Batches  int
	Examples int
	Bytes    uint64

	// Shapes counts the batches per image tensor shape.
	Shapes map[string]int

	// Labels counts the examples per label; unlabeled examples are counted
	// under -1.
	Labels map[int32]int
}

func (s *loaderStats) add(images string, memory uint64, labels []int32) {
	s.Batches++
	s.Examples += len(labels)
	s.Bytes += memory
	s.Shapes[images]++
	for _, l := range labels {
		s.Labels[l]++
	}
}

// labelValues returns the sorted labels seen and their counts, ready to be
// plotted.
func (s *loaderStats) labelValues() (names []string, counts plotter.Values) {
	maxLabel := int32(-1)
	for l := range s.Labels {
		maxLabel = max(maxLabel, l)
	}
	for l := int32(-1); l <= maxLabel; l++ {
		count, found := s.Labels[l]
		if !found {
			continue
		}
		name := strconv.Itoa(int(l))
		if l < 0 {
			name = "unlabeled"
		}
		names = append(names, name)
		counts = append(counts, float64(count))
	}
	return names, counts
}

// String prints the human readable summary.
func (s *loaderStats) String() string {
	out := fmt.Sprintf("%s: %s batches, %s examples, %s of images",
		s.Name, humanize.Comma(int64(s.Batches)), humanize.Comma(int64(s.Examples)), humanize.Bytes(s.Bytes))
	for shape, count := range s.Shapes {
		out += fmt.Sprintf("\n\t%s x %s", shape, humanize.Comma(int64(count)))
	}
	return out
}

// collect reads up to maxBatches batches (all if maxBatches <= 0 or larger
// than total) from ds, showing a progress bar on w.
func collect(ds train.Dataset, total, maxBatches int, w io.Writer) (*loaderStats, error) {
	if maxBatches > 0 && maxBatches < total {
		total = maxBatches
	}
	stats := &loaderStats{Name: ds.Name(), Shapes: make(map[string]int), Labels: make(map[int32]int)}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(ds.Name()),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionShowIts(),
	)
	for stats.Batches < total {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "batch %d of %s", stats.Batches, ds.Name())
		}
		values, ok := labels[0].Value().([]int32)
		if !ok {
			return nil, errors.Errorf("%s yielded labels of shape %s, expected int32", ds.Name(), labels[0].Shape())
		}
		stats.add(inputs[0].Shape().String(), uint64(inputs[0].Shape().Memory()), values)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	_, _ = fmt.Fprintln(w)
	return stats, nil
}

// plotLabels saves a bar chart of the label counts of stats into outDir.
func plotLabels(outDir string, stats *loaderStats) (string, error) {
	names, counts := stats.labelValues()
	if len(counts) == 0 {
		return "", errors.Errorf("no labels to plot for %s", stats.Name)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Label counts: %s", stats.Name)
	p.X.Label.Text = "label"
	p.Y.Label.Text = "examples"

	bars, err := plotter.NewBarChart(counts, vg.Points(12))
	if err != nil {
		return "", errors.Wrap(err, "failed to create bar chart")
	}
	p.Add(bars)
	p.Add(plotter.NewGrid())
	p.NominalX(names...)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create %q", outDir)
	}
	outPath := filepath.Join(outDir, sanitize(stats.Name)+"_labels.png")
	if err := p.Save(8*vg.Inch, 4*vg.Inch, outPath); err != nil {
		return "", errors.Wrapf(err, "failed to save plot %q", outPath)
	}
	return outPath, nil
}

// sanitize maps a loader name to a file name.
func sanitize(name string) string {
	out := []byte(name)
	for ii, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[ii] = '_'
		}
	}
	return string(out)
}
