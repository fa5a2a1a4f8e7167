package datasets

import (
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// ImageFolder is a Dataset of images laid out as root/<class>/**/<image>.
// Classes are the sorted sub-directory names of root, and the label of an
// image is the index of its class.
//
// Only the file paths are indexed at construction; images are decoded on
// demand by Example.
type ImageFolder struct {
	fs      afero.Fs
	root    string
	classes []string
	paths   []string
	labels  []int32
}

// NewImageFolder scans root. It returns ErrDatasetNotFound if root does not
// exist or contains no images.
func NewImageFolder(fs afero.Fs, root string) (*ImageFolder, error) {
	if err := requireDir(fs, root); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %q", root)
	}

	d := &ImageFolder{fs: fs, root: root}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var classPaths []string
		classDir := filepath.Join(root, entry.Name())
		err := afero.Walk(fs, classDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && isImageFile(path) {
				classPaths = append(classPaths, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan class directory %q", classDir)
		}
		sort.Strings(classPaths)
		label := int32(len(d.classes))
		d.classes = append(d.classes, entry.Name())
		for _, p := range classPaths {
			d.paths = append(d.paths, p)
			d.labels = append(d.labels, label)
		}
	}
	if len(d.paths) == 0 {
		return nil, errors.Wrapf(ErrDatasetNotFound, "no images found in class sub-directories of %q", root)
	}
	klog.V(1).Infof("ImageFolder %q: %d images in %d classes", root, len(d.paths), len(d.classes))
	return d, nil
}

// Name returns the root directory.
func (d *ImageFolder) Name() string { return d.root }

// Len returns the number of images.
func (d *ImageFolder) Len() int { return len(d.paths) }

// Classes returns the class names, in label order.
func (d *ImageFolder) Classes() []string {
	return append([]string(nil), d.classes...)
}

// ClassCounts returns the number of images per class, in label order.
func (d *ImageFolder) ClassCounts() []int {
	counts := make([]int, len(d.classes))
	for _, label := range d.labels {
		counts[label]++
	}
	return counts
}

// Path returns the file path of example i.
func (d *ImageFolder) Path(i int) string { return d.paths[i] }

// Example decodes image i.
func (d *ImageFolder) Example(i int) (image.Image, int32, error) {
	if err := checkIndex(d, i); err != nil {
		return nil, 0, err
	}
	img, err := decodeImage(d.fs, d.paths[i])
	if err != nil {
		return nil, 0, err
	}
	return img, d.labels[i], nil
}
