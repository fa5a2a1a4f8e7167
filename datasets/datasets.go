package datasets

import (
	"image"

	"github.com/pkg/errors"
)

// This package provides lazily-loaded image example sources and the Loader
// that turns them into batches of gomlx tensors.
//
// Sources only store file locations (and a small index) and read the actual
// pixels when an example is requested, minimizing memory usage. The exception
// is SVHN, whose MATLAB file has to be parsed as a whole.
//
// Layout and intended usage:
//
// ImageFolder
//   - One sub-directory per class, sorted by name; label = class index.
//   - Images found recursively under each class directory.
//
// CIFAR
//   - The binary distribution of CIFAR-10 / CIFAR-100, one fixed-size record
//     per image, read with ReadAt.
//
// SVHN
//   - The cropped-digits MATLAB file (test_32x32.mat).
//
// TinyImages
//   - The raw 80M tiny images binary, unlabeled.
//
// All sources read through an afero.Fs so they can be tested in memory.

// ErrDatasetNotFound is returned when a dataset location does not exist or
// holds no usable data.
var ErrDatasetNotFound = errors.New("dataset not found")

// Dataset is an indexable source of labeled images. Implementations must be
// safe for concurrent calls to Example.
type Dataset interface {
	Name() string
	Len() int
	Example(i int) (img image.Image, label int32, err error)
}

func checkIndex(ds Dataset, i int) error {
	if i < 0 || i >= ds.Len() {
		return errors.Errorf("%s: index %d out of range [0, %d)", ds.Name(), i, ds.Len())
	}
	return nil
}
