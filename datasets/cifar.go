package datasets

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/gomlx/gomlx/examples/cifar"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// CIFARKind selects between the CIFAR-10 and CIFAR-100 binary formats.
type CIFARKind int

const (
	CIFAR10 CIFARKind = iota
	CIFAR100
)

func (k CIFARKind) String() string {
	if k == CIFAR100 {
		return "CIFAR-100"
	}
	return "CIFAR-10"
}

// SubDir is the directory the binary distribution untars into, relative to
// the download directory.
func (k CIFARKind) SubDir() string {
	if k == CIFAR100 {
		return cifar.C100SubDir
	}
	return cifar.C10SubDir
}

// NumClasses is the number of (fine) labels.
func (k CIFARKind) NumClasses() int {
	if k == CIFAR100 {
		return 100
	}
	return 10
}

// labelBytes is the number of label bytes preceding each image: CIFAR-100
// stores the coarse label before the fine one.
func (k CIFARKind) labelBytes() int {
	if k == CIFAR100 {
		return 2
	}
	return 1
}

func (k CIFARKind) recordSize() int {
	return k.labelBytes() + cifarImageBytes
}

func (k CIFARKind) files(train bool) []string {
	switch {
	case k == CIFAR100 && train:
		return []string{"train.bin"}
	case k == CIFAR100:
		return []string{"test.bin"}
	case train:
		files := make([]string, 5)
		for ii := range files {
			files[ii] = fmt.Sprintf("data_batch_%d.bin", ii+1)
		}
		return files
	default:
		return []string{"test_batch.bin"}
	}
}

const (
	cifarSide       = 32
	cifarPlane      = cifarSide * cifarSide
	cifarImageBytes = 3 * cifarPlane
)

// DownloadCIFAR downloads and untars the binary distribution into baseDir
// (on the OS filesystem), unless its sub-directory already exists.
func DownloadCIFAR(kind CIFARKind, baseDir string) error {
	var err error
	if kind == CIFAR100 {
		err = cifar.DownloadCifar100(baseDir)
	} else {
		err = cifar.DownloadCifar10(baseDir)
	}
	return errors.WithMessagef(err, "failed to download %s into %q", kind, baseDir)
}

// CIFAR is a Dataset over the CIFAR binary files of one split. Records are
// read individually with ReadAt.
type CIFAR struct {
	fs       afero.Fs
	kind     CIFARKind
	train    bool
	paths    []string
	cumCount []int
}

// NewCIFAR indexes the binary files of the train or test split found in
// dir, the directory holding the .bin files.
func NewCIFAR(fs afero.Fs, kind CIFARKind, dir string, train bool) (*CIFAR, error) {
	if err := requireDir(fs, dir); err != nil {
		return nil, errors.WithMessagef(err, "%s", kind)
	}
	d := &CIFAR{fs: fs, kind: kind, train: train, cumCount: []int{0}}
	recordSize := int64(kind.recordSize())
	for _, name := range kind.files(train) {
		path := filepath.Join(dir, name)
		size, err := requireFile(fs, path)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s", kind)
		}
		if size%recordSize != 0 {
			return nil, errors.Errorf("%s file %q has %d bytes, not a multiple of the %d bytes record",
				kind, path, size, recordSize)
		}
		d.paths = append(d.paths, path)
		d.cumCount = append(d.cumCount, d.cumCount[len(d.cumCount)-1]+int(size/recordSize))
	}
	return d, nil
}

// Name implements Dataset.
func (d *CIFAR) Name() string {
	if d.train {
		return d.kind.String() + "/train"
	}
	return d.kind.String() + "/test"
}

// Len implements Dataset.
func (d *CIFAR) Len() int { return d.cumCount[len(d.cumCount)-1] }

// mapGlobalIndex maps a global index to (file index, record index within file).
func (d *CIFAR) mapGlobalIndex(idx int) (fileIdx, recordIdx int) {
	for ii := range d.paths {
		if idx < d.cumCount[ii+1] {
			return ii, idx - d.cumCount[ii]
		}
	}
	last := len(d.paths) - 1
	return last, idx - d.cumCount[last]
}

// Example reads record i. The label is the fine label for CIFAR-100.
func (d *CIFAR) Example(i int) (image.Image, int32, error) {
	if err := checkIndex(d, i); err != nil {
		return nil, 0, err
	}
	fileIdx, recordIdx := d.mapGlobalIndex(i)
	f, err := d.fs.Open(d.paths[fileIdx])
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to open %q", d.paths[fileIdx])
	}
	defer func() { _ = f.Close() }()

	record := make([]byte, d.kind.recordSize())
	if _, err := f.ReadAt(record, int64(recordIdx)*int64(len(record))); err != nil {
		return nil, 0, errors.Wrapf(err, "failed to read record %d of %q", recordIdx, d.paths[fileIdx])
	}
	label := int32(record[d.kind.labelBytes()-1])
	if int(label) >= d.kind.NumClasses() {
		return nil, 0, errors.Errorf("%s record %d of %q has invalid label %d", d.kind, recordIdx, d.paths[fileIdx], label)
	}

	// Channel planes (R, G, B), each row-major.
	pixels := record[d.kind.labelBytes():]
	img := newRGB(cifarSide, cifarSide)
	for y := 0; y < cifarSide; y++ {
		for x := 0; x < cifarSide; x++ {
			pos := y*cifarSide + x
			setRGB(img, x, y, pixels[pos], pixels[cifarPlane+pos], pixels[2*cifarPlane+pos])
		}
	}
	return img, label, nil
}
