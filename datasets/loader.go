package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Noofbiz/oodBowl/transforms"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mldata "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// UnlabeledLabel is the label yielded for every example of an unlabeled
// Loader.
const UnlabeledLabel int32 = -1

// Options configure a Loader.
type Options struct {
	// BatchSize is the number of examples per batch, at least 1.
	BatchSize int

	// Shuffle the example order at every epoch.
	Shuffle bool

	// Workers is the number of goroutines preparing batches. With more than
	// one worker batches are prefetched in parallel and may be yielded out
	// of order.
	Workers int

	// PinMemory is carried for callers that stage batches to an accelerator.
	// gomlx tensors are created on the host, so it has no effect here.
	PinMemory bool

	// DropLast drops the final batch of an epoch if it is smaller than BatchSize.
	DropLast bool

	// Seed for shuffling and random augmentation. 0 picks a time based seed.
	Seed int64

	// Unlabeled loaders yield UnlabeledLabel for every example.
	Unlabeled bool
}

// Loader yields batches of preprocessed images from a Dataset. It implements
// gomlx's train.Dataset: inputs are a single float32 tensor shaped
// [batch, height, width, 3] and labels a single int32 tensor shaped [batch].
// Yield returns io.EOF at the end of each epoch, until Reset is called.
//
// Loader is safe for concurrent use. Call Done to stop the prefetching
// goroutines of a Loader with more than one worker.
type Loader struct {
	batcher  *batcher
	parallel *mldata.ParallelDataset
	done     atomic.Bool
}

var _ train.Dataset = (*Loader)(nil)

// NewLoader creates a Loader applying recipe to every example of ds.
func NewLoader(ds Dataset, recipe transforms.Recipe, opts Options) (*Loader, error) {
	if opts.BatchSize < 1 {
		return nil, errors.Errorf("invalid batch size %d for %s, it must be at least 1", opts.BatchSize, ds.Name())
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	b := &batcher{
		name:    fmt.Sprintf("%s[%s]", ds.Name(), recipe.Name),
		ds:      ds,
		recipe:  recipe,
		opts:    opts,
		shuffle: rand.New(rand.NewSource(opts.Seed)),
	}
	b.resetLocked()

	l := &Loader{batcher: b}
	if opts.Workers > 1 {
		b.deferErrors = true
		l.parallel = mldata.CustomParallel(b).
			Parallelism(opts.Workers).
			Buffer(2 * opts.Workers).
			Start()
	}
	return l, nil
}

// Name implements train.Dataset.
func (l *Loader) Name() string { return l.batcher.name }

// ShortName implements train.HasShortName.
func (l *Loader) ShortName() string { return l.batcher.ShortName() }

// Dataset returns the example source.
func (l *Loader) Dataset() Dataset { return l.batcher.ds }

// Recipe returns the preprocessing recipe applied to each example.
func (l *Loader) Recipe() transforms.Recipe { return l.batcher.recipe.Clone() }

// Options returns the options the Loader was created with.
func (l *Loader) Options() Options { return l.batcher.opts }

// Len returns the number of examples per epoch.
func (l *Loader) Len() int { return l.batcher.ds.Len() }

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	n, size := l.batcher.ds.Len(), l.batcher.opts.BatchSize
	if l.batcher.opts.DropLast {
		return n / size
	}
	return (n + size - 1) / size
}

// Reset implements train.Dataset, starting a new epoch. The order is
// reshuffled if the Loader shuffles.
func (l *Loader) Reset() {
	if l.done.Load() {
		klog.Warningf("%s: Reset called after Done", l.batcher.name)
		return
	}
	if l.parallel != nil {
		l.parallel.Reset()
		return
	}
	l.batcher.Reset()
}

// Yield implements train.Dataset.
func (l *Loader) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if l.done.Load() {
		return nil, nil, nil, errors.Errorf("%s: Yield called after Done", l.batcher.name)
	}
	if l.parallel == nil {
		return l.batcher.Yield()
	}
	spec, inputs, labels, err = l.parallel.Yield()
	if err == io.EOF {
		// Workers stop the epoch early on failure: report why.
		if workerErr := l.batcher.failure(); workerErr != nil {
			err = workerErr
		}
	}
	return
}

// Done stops the prefetching goroutines, if any, and returns once they have
// exited. The Loader can no longer be used afterwards. Calling Done more than
// once is a no-op.
func (l *Loader) Done() {
	if !l.done.CompareAndSwap(false, true) {
		return
	}
	l.batcher.stop()
	if l.parallel == nil {
		return
	}
	// ParallelDataset.Done never returns once an epoch ended on its own, so
	// the workers are stopped by ending the epoch instead: with the batcher
	// stopped they exit after their current batch, and the buffer is drained
	// until the parallel dataset reports the end of the epoch.
	for {
		if _, _, _, err := l.parallel.Yield(); err != nil {
			return
		}
	}
}

// batcher assembles batches sequentially; Loader parallelizes it when
// configured with several workers, each calling Yield.
type batcher struct {
	name   string
	ds     Dataset
	recipe transforms.Recipe
	opts   Options

	// deferErrors makes Yield record failures and end the epoch with
	// io.EOF instead, for the parallel wrapper to report them.
	deferErrors bool

	mu      sync.Mutex
	stopped bool
	shuffle *rand.Rand
	order   []int
	next    int
	epoch   int
	err     error
}

func (b *batcher) Name() string { return b.name }

func (b *batcher) ShortName() string {
	if len(b.name) <= 8 {
		return b.name
	}
	return b.name[:8]
}

func (b *batcher) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.epoch++
	b.resetLocked()
}

func (b *batcher) resetLocked() {
	n := b.ds.Len()
	if len(b.order) != n {
		b.order = make([]int, n)
	}
	for ii := range b.order {
		b.order[ii] = ii
	}
	if b.opts.Shuffle {
		b.shuffle.Shuffle(n, func(i, j int) { b.order[i], b.order[j] = b.order[j], b.order[i] })
	}
	b.next = 0
	b.err = nil
}

// stop makes every following Yield return io.EOF, Reset included.
func (b *batcher) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

func (b *batcher) failure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// take reserves the indices of the next batch, and returns the seed for its
// random augmentations.
func (b *batcher) take() (indices []int, seed int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil || b.stopped {
		return nil, 0, io.EOF
	}
	remaining := len(b.order) - b.next
	if remaining <= 0 || (b.opts.DropLast && remaining < b.opts.BatchSize) {
		return nil, 0, io.EOF
	}
	size := min(remaining, b.opts.BatchSize)
	indices = append([]int(nil), b.order[b.next:b.next+size]...)
	// The seed depends only on the batch position, so augmentations are
	// reproducible whichever worker builds the batch.
	seed = b.opts.Seed ^ (int64(b.epoch) << 40) ^ int64(b.next)
	b.next += size
	return indices, seed, nil
}

func (b *batcher) fail(err error) error {
	if !b.deferErrors {
		return err
	}
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	klog.Errorf("%s: %+v", b.name, err)
	return io.EOF
}

func (b *batcher) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	indices, seed, err := b.take()
	if err != nil {
		return nil, nil, nil, err
	}
	rng := rand.New(rand.NewSource(seed))

	var pixels []float32
	batchLabels := make([]int32, len(indices))
	var height, width int
	for ii, idx := range indices {
		img, label, err := b.ds.Example(idx)
		if err != nil {
			return nil, nil, nil, b.fail(errors.WithMessagef(err, "%s: example %d", b.name, idx))
		}
		out, err := transforms.Apply(img, b.recipe, rng)
		if err != nil {
			return nil, nil, nil, b.fail(errors.WithMessagef(err, "%s: example %d", b.name, idx))
		}
		if ii == 0 {
			height, width = out.Height, out.Width
			pixels = make([]float32, 0, len(indices)*len(out.Pixels))
		} else if out.Height != height || out.Width != width {
			return nil, nil, nil, b.fail(errors.Errorf(
				"%s: example %d is %dx%d after %q but the batch is %dx%d, images of a batch must have the same size",
				b.name, idx, out.Height, out.Width, b.recipe.Name, height, width))
		}
		pixels = append(pixels, out.Pixels...)
		if b.opts.Unlabeled {
			label = UnlabeledLabel
		}
		batchLabels[ii] = label
	}

	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(pixels, len(indices), height, width, transforms.Channels)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(batchLabels, len(indices))}
	return b.name, inputs, labels, nil
}
