package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/oodBowl/loaders"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedDataset yields the given label batches with 2x2 images.
type fixedDataset struct {
	batches [][]int32
	next    int
}

func (d *fixedDataset) Name() string { return "fixed/val" }

func (d *fixedDataset) Reset() { d.next = 0 }

func (d *fixedDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if d.next >= len(d.batches) {
		return nil, nil, nil, io.EOF
	}
	batch := d.batches[d.next]
	d.next++
	pixels := make([]float32, len(batch)*2*2*3)
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(pixels, len(batch), 2, 2, 3)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(append([]int32(nil), batch...), len(batch))}
	return nil, inputs, labels, nil
}

func TestCollect(t *testing.T) {
	ds := &fixedDataset{batches: [][]int32{{0, 1, 1}, {2, 0, 1}, {1}}}
	stats, err := collect(ds, 3, 0, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 7, stats.Examples)
	assert.Equal(t, map[int32]int{0: 2, 1: 4, 2: 1}, stats.Labels)
	assert.Equal(t, uint64(7*2*2*3*4), stats.Bytes)
	assert.Len(t, stats.Shapes, 2)

	ds.Reset()
	stats, err = collect(ds, 3, 2, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 6, stats.Examples)
}

func TestLabelValues(t *testing.T) {
	stats := &loaderStats{Labels: map[int32]int{-1: 5, 3: 2, 0: 1}}
	names, counts := stats.labelValues()
	assert.Equal(t, []string{"unlabeled", "0", "3"}, names)
	assert.Equal(t, []float64{5, 1, 2}, []float64(counts))
}

func TestPlotLabels(t *testing.T) {
	ds := &fixedDataset{batches: [][]int32{{0, 1, 1, 2}}}
	var progress bytes.Buffer
	stats, err := collect(ds, 1, 0, &progress)
	require.NoError(t, err)
	assert.NotZero(t, progress.Len())

	dir := t.TempDir()
	path, err := plotLabels(dir, stats)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fixed_val_labels.png"), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = plotLabels(dir, &loaderStats{Name: "empty", Labels: map[int32]int{}})
	assert.Error(t, err)
}

func TestScaleSchedule(t *testing.T) {
	assert.Equal(t, []int{5, 7, 9}, scaleSchedule([]int{50, 75, 90}, 10))
	assert.Equal(t, []int{50, 75, 90}, scaleSchedule([]int{50, 75, 90}, 100))
}

func TestDefaultInDatasetIsRegistered(t *testing.T) {
	desc, err := loaders.LookupDataset(defaultInDataset)
	require.NoError(t, err)
	assert.Equal(t, 10, desc.NumClasses)
}
