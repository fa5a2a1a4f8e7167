package datasets

import (
	"bufio"
	"image"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// TinyImagesExclusionFile is the optional file, next to the binary, listing
// the 1-based indices of records that overlap with CIFAR and must be skipped.
const TinyImagesExclusionFile = "80mn_cifar_idxs.txt"

// TinyImages is the 80 million tiny images binary: back to back 32x32x3
// records in column-major order, without labels. Every example has label 0.
type TinyImages struct {
	fs       afero.Fs
	path     string
	records  int
	excluded []int // Sorted 0-based record indices.
}

// NewTinyImages indexes the binary at path, and loads the exclusion list if
// present in the same directory.
func NewTinyImages(fs afero.Fs, path string) (*TinyImages, error) {
	size, err := requireFile(fs, path)
	if err != nil {
		return nil, errors.WithMessage(err, "TinyImages")
	}
	if size%cifarImageBytes != 0 {
		return nil, errors.Errorf("TinyImages file %q has %d bytes, not a multiple of the %d bytes record",
			path, size, cifarImageBytes)
	}
	d := &TinyImages{fs: fs, path: path, records: int(size / cifarImageBytes)}

	exclusionPath := filepath.Join(filepath.Dir(path), TinyImagesExclusionFile)
	if ok, _ := afero.Exists(fs, exclusionPath); ok {
		if d.excluded, err = readExclusions(fs, exclusionPath, d.records); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("TinyImages %q: %d records, %d excluded", path, d.records, len(d.excluded))
	return d, nil
}

func readExclusions(fs afero.Fs, path string, records int) ([]int, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()

	seen := make(map[int]bool)
	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx, err := strconv.Atoi(line)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: invalid index", path, lineNum)
		}
		idx-- // 1-based in the file.
		if idx >= 0 && idx < records {
			seen[idx] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", path)
	}
	excluded := make([]int, 0, len(seen))
	for idx := range seen {
		excluded = append(excluded, idx)
	}
	sort.Ints(excluded)
	return excluded, nil
}

// Name implements Dataset.
func (d *TinyImages) Name() string { return "TinyImages" }

// Len is the number of records not excluded.
func (d *TinyImages) Len() int { return d.records - len(d.excluded) }

// record maps example i to its record index, skipping excluded records.
func (d *TinyImages) record(i int) int {
	r := i
	for {
		// Number of excluded records at or before r.
		skipped := sort.SearchInts(d.excluded, r+1)
		next := i + skipped
		if next == r {
			return r
		}
		r = next
	}
}

// Example reads the i-th non-excluded record.
func (d *TinyImages) Example(i int) (image.Image, int32, error) {
	if err := checkIndex(d, i); err != nil {
		return nil, 0, err
	}
	r := d.record(i)
	f, err := d.fs.Open(d.path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to open %q", d.path)
	}
	defer func() { _ = f.Close() }()
	block := make([]byte, cifarImageBytes)
	if _, err := f.ReadAt(block, int64(r)*cifarImageBytes); err != nil {
		return nil, 0, errors.Wrapf(err, "failed to read record %d of %q", r, d.path)
	}
	return columnMajorImage(block), 0, nil
}
