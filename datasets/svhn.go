package datasets

import (
	"image"

	"github.com/daniellowtw/matlab"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

const svhnImageValues = cifarImageBytes

// SVHN is the cropped-digits Street View House Numbers set, read from its
// MATLAB distribution file (e.g. test_32x32.mat).
//
// The file holds two variables: X, a 32x32x3xN uint8 array in MATLAB's
// column-major order, and y, the N labels where the digit 0 is stored as 10.
// The whole file is parsed by NewSVHN.
type SVHN struct {
	path   string
	pixels []uint8
	labels []int32
}

// NewSVHN parses the MATLAB file at path.
func NewSVHN(fs afero.Fs, path string) (*SVHN, error) {
	if _, err := requireFile(fs, path); err != nil {
		return nil, errors.WithMessage(err, "SVHN")
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open SVHN file %q", path)
	}
	defer func() { _ = f.Close() }()

	matlabFile, err := matlab.NewFileFromReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse SVHN file %q", path)
	}
	matX, found := matlabFile.GetVar("X")
	if !found {
		return nil, errors.Errorf("failed to parse var \"X\" in Matlab file %q", path)
	}
	matY, found := matlabFile.GetVar("y")
	if !found {
		return nil, errors.Errorf("failed to parse var \"y\" in Matlab file %q", path)
	}

	values := matX.Value()
	if len(values)%svhnImageValues != 0 {
		return nil, errors.Errorf("SVHN file %q: X has %d values, not a multiple of 32x32x3", path, len(values))
	}
	d := &SVHN{path: path, pixels: make([]uint8, len(values))}
	for ii, value := range values {
		v, err := matlabByte(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "SVHN file %q: X[%d]", path, ii)
		}
		d.pixels[ii] = v
	}

	labelValues := matY.Value()
	if len(labelValues) != d.Len() {
		return nil, errors.Errorf("SVHN file %q: %d images but %d labels", path, d.Len(), len(labelValues))
	}
	d.labels = make([]int32, len(labelValues))
	for ii, value := range labelValues {
		v, err := matlabByte(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "SVHN file %q: y[%d]", path, ii)
		}
		d.labels[ii] = int32(v) % 10
	}
	klog.V(1).Infof("SVHN %q: %d images", path, d.Len())
	return d, nil
}

// matlabByte converts one element of a MATLAB array to a byte. SVHN files
// are saved as uint8, but re-saved copies frequently carry doubles.
func matlabByte(value any) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case float64:
		return uint8(v), nil
	case float32:
		return uint8(v), nil
	case int32:
		return uint8(v), nil
	case uint16:
		return uint8(v), nil
	}
	return 0, errors.Errorf("unsupported MATLAB element type %T", value)
}

// Name implements Dataset.
func (d *SVHN) Name() string { return "SVHN" }

// Len implements Dataset.
func (d *SVHN) Len() int { return len(d.pixels) / svhnImageValues }

// Example returns image i, with x along MATLAB's second dimension.
func (d *SVHN) Example(i int) (image.Image, int32, error) {
	if err := checkIndex(d, i); err != nil {
		return nil, 0, err
	}
	return columnMajorImage(d.pixels[i*svhnImageValues : (i+1)*svhnImageValues]), d.labels[i], nil
}

// columnMajorImage converts a 32x32x3 column-major block (index
// row + 32*col + 1024*channel) to an image.
func columnMajorImage(block []uint8) *image.NRGBA {
	img := newRGB(cifarSide, cifarSide)
	for y := 0; y < cifarSide; y++ {
		for x := 0; x < cifarSide; x++ {
			pos := y + cifarSide*x
			setRGB(img, x, y, block[pos], block[cifarPlane+pos], block[2*cifarPlane+pos])
		}
	}
	return img
}
