package datasets

import (
	"image/color"
	"io"
	"math"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/Noofbiz/oodBowl/transforms"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFolder returns an ImageFolder with 2 "a" images and 3 "b" images.
func newFolder(t *testing.T, fs afero.Fs) *ImageFolder {
	t.Helper()
	writeFolder(t, fs, "/data", map[string]int{"a": 2, "b": 3})
	ds, err := NewImageFolder(fs, "/data")
	require.NoError(t, err)
	return ds
}

// cifarRecipe resizes the short side only, keeping tests fast on 8x8 images.
func cifarRecipe(t *testing.T) transforms.Recipe {
	t.Helper()
	r, err := transforms.RecipeFor(transforms.CIFAR10)
	require.NoError(t, err)
	return r
}

// drain yields until io.EOF, returning the batch sizes and all labels.
func drain(t *testing.T, l *Loader) (sizes []int, labels []int32) {
	t.Helper()
	for {
		_, inputs, batchLabels, err := l.Yield()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		require.Len(t, inputs, 1)
		require.Len(t, batchLabels, 1)
		dims := inputs[0].Shape().Dimensions
		require.Len(t, dims, 4)
		assert.Equal(t, []int{transforms.ImageSize, transforms.ImageSize, transforms.Channels}, dims[1:])
		values := batchLabels[0].Value().([]int32)
		require.Len(t, values, dims[0])
		sizes = append(sizes, dims[0])
		labels = append(labels, values...)
	}
}

func TestLoaderBatches(t *testing.T) {
	ds := newFolder(t, afero.NewMemMapFs())
	l, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 2, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, l.NumBatches())
	assert.Equal(t, 5, l.Len())

	sizes, labels := drain(t, l)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int32{0, 0, 1, 1, 1}, labels)

	// Exhausted until Reset.
	_, _, _, err = l.Yield()
	assert.Equal(t, io.EOF, err)
	l.Reset()
	sizes, _ = drain(t, l)
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestLoaderDropLast(t *testing.T) {
	ds := newFolder(t, afero.NewMemMapFs())
	l, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 2, DropLast: true, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, l.NumBatches())
	sizes, _ := drain(t, l)
	assert.Equal(t, []int{2, 2}, sizes)
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	fs := afero.NewMemMapFs()
	ds := newFolder(t, fs)
	first, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 5, Shuffle: true, Seed: 17})
	require.NoError(t, err)
	second, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 5, Shuffle: true, Seed: 17})
	require.NoError(t, err)

	_, labels1 := drain(t, first)
	_, labels2 := drain(t, second)
	assert.Equal(t, labels1, labels2)

	// Every example once per epoch.
	sort.Slice(labels1, func(i, j int) bool { return labels1[i] < labels1[j] })
	assert.Equal(t, []int32{0, 0, 1, 1, 1}, labels1)
}

func TestLoaderUnlabeled(t *testing.T) {
	ds := newFolder(t, afero.NewMemMapFs())
	l, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 4, Unlabeled: true, Seed: 1})
	require.NoError(t, err)
	_, labels := drain(t, l)
	assert.Equal(t, []int32{-1, -1, -1, -1, -1}, labels)
}

func TestLoaderInvalidBatchSize(t *testing.T) {
	ds := newFolder(t, afero.NewMemMapFs())
	_, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 0})
	assert.Error(t, err)
}

func TestLoaderParallel(t *testing.T) {
	ds := newFolder(t, afero.NewMemMapFs())
	l, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 1, Workers: 3, Shuffle: true, Seed: 5})
	require.NoError(t, err)

	for epoch := 0; epoch < 2; epoch++ {
		sizes, labels := drain(t, l)
		assert.Len(t, sizes, 5, "epoch %d", epoch)
		sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
		assert.Equal(t, []int32{0, 0, 1, 1, 1}, labels, "epoch %d", epoch)
		l.Reset()
	}
	doneWithin(t, l, 5*time.Second)
}

// doneWithin calls l.Done and fails the test if it doesn't return in time.
func doneWithin(t *testing.T, l *Loader, timeout time.Duration) {
	t.Helper()
	finished := make(chan struct{})
	go func() {
		l.Done()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
		t.Fatalf("%s: Done blocked for %s", l.Name(), timeout)
	}
}

func TestLoaderDone(t *testing.T) {
	ds := newFolder(t, afero.NewMemMapFs())
	testCases := []struct {
		name  string
		reads func(t *testing.T, l *Loader)
	}{
		{"unread", func(t *testing.T, l *Loader) {}},
		{"partial epoch", func(t *testing.T, l *Loader) {
			_, _, _, err := l.Yield()
			require.NoError(t, err)
		}},
		{"every batch without io.EOF", func(t *testing.T, l *Loader) {
			for ii := 0; ii < l.NumBatches(); ii++ {
				_, _, _, err := l.Yield()
				require.NoError(t, err)
			}
			// Let the workers finish the epoch on their own.
			time.Sleep(50 * time.Millisecond)
		}},
		{"drained epoch", func(t *testing.T, l *Loader) {
			sizes, _ := drain(t, l)
			assert.Len(t, sizes, 5)
		}},
		{"drained after reset", func(t *testing.T, l *Loader) {
			drain(t, l)
			l.Reset()
			sizes, _ := drain(t, l)
			assert.Len(t, sizes, 5)
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for _, workers := range []int{0, 2} {
				l, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 1, Workers: workers, Seed: 1})
				require.NoError(t, err)
				tc.reads(t, l)
				doneWithin(t, l, 5*time.Second)

				_, _, _, err = l.Yield()
				require.Error(t, err, "workers=%d", workers)
				assert.NotEqual(t, io.EOF, err, "workers=%d", workers)
				doneWithin(t, l, time.Second)
			}
		})
	}
}

func TestLoaderErrors(t *testing.T) {
	for _, workers := range []int{1, 2} {
		fs := afero.NewMemMapFs()
		writeFolder(t, fs, "/data", map[string]int{"a": 1})
		require.NoError(t, afero.WriteFile(fs, filepath.Join("/data", "a", "zz.png"), []byte("garbage"), 0o644))
		ds, err := NewImageFolder(fs, "/data")
		require.NoError(t, err)

		l, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 2, Workers: workers, Seed: 1})
		require.NoError(t, err)
		var yieldErr error
		for yieldErr == nil {
			_, _, _, yieldErr = l.Yield()
		}
		assert.NotEqual(t, io.EOF, yieldErr, "workers=%d", workers)
		assert.Contains(t, yieldErr.Error(), "zz.png", "workers=%d", workers)
		doneWithin(t, l, 5*time.Second)
	}
}

func TestLoaderMixedSizes(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/data/a/1.png", 8, 8, color.NRGBA{A: 255})
	writePNG(t, fs, "/data/a/2.png", 8, 16, color.NRGBA{A: 255})
	ds, err := NewImageFolder(fs, "/data")
	require.NoError(t, err)

	// Short-side resize keeps the aspect ratio: the batch can't be stacked.
	l, err := NewLoader(ds, cifarRecipe(t), Options{BatchSize: 2, Seed: 1})
	require.NoError(t, err)
	_, _, _, err = l.Yield()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same size")

	// A cropping recipe makes them uniform.
	test, err := transforms.RecipeFor(transforms.Test)
	require.NoError(t, err)
	l, err = NewLoader(ds, test, Options{BatchSize: 2, Seed: 1})
	require.NoError(t, err)
	_, inputs, _, err := l.Yield()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 224, 224, 3}, inputs[0].Shape().Dimensions)
	assertFinite(t, inputs[0])
}

func assertFinite(t *testing.T, tensor *tensors.Tensor) {
	t.Helper()
	values := tensor.Value().([][][][]float32)
	for _, img := range values {
		for _, row := range img {
			for _, px := range row {
				for _, v := range px {
					require.False(t, math.IsNaN(float64(v)), "NaN in batch")
				}
			}
		}
	}
}
