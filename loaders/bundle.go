package loaders

import "github.com/Noofbiz/oodBowl/datasets"

// InBundle holds the in-distribution loaders of one request. Loaders for
// splits that were not requested, or that the dataset does not have, are
// nil.
type InBundle struct {
	Train, Val, Test *datasets.Loader

	// NumClasses of the dataset.
	NumClasses int

	// LRSchedule holds the epochs at which the learning rate decays. Each
	// bundle owns its own copy.
	LRSchedule []int
}

// Loader returns the loader of split, or nil.
func (b *InBundle) Loader(split Split) *datasets.Loader {
	switch split {
	case SplitTrain:
		return b.Train
	case SplitVal:
		return b.Val
	case SplitTest:
		return b.Test
	}
	return nil
}

func (b *InBundle) set(split Split, l *datasets.Loader) {
	switch split {
	case SplitTrain:
		b.Train = l
	case SplitVal:
		b.Val = l
	case SplitTest:
		b.Test = l
	}
}

// Close stops the prefetching goroutines of all loaders.
func (b *InBundle) Close() {
	closeLoaders(b.Train, b.Val, b.Test)
}

// OutBundle holds the OOD loaders of one request; unset loaders are nil.
type OutBundle struct {
	Train, Val *datasets.Loader
}

// Loader returns the loader of split, or nil.
func (b *OutBundle) Loader(split Split) *datasets.Loader {
	switch split {
	case SplitTrain:
		return b.Train
	case SplitVal:
		return b.Val
	}
	return nil
}

// Close stops the prefetching goroutines of all loaders.
func (b *OutBundle) Close() {
	closeLoaders(b.Train, b.Val)
}

func closeLoaders(loaders ...*datasets.Loader) {
	for _, l := range loaders {
		if l != nil {
			l.Done()
		}
	}
}
