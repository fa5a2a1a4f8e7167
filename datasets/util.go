package datasets

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	// Decoders not registered by imaging.
	_ "golang.org/x/image/webp"
)

// imageExtensions are the file extensions ImageFolder picks up.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

func isImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// decodeImage opens and decodes the image at path, honoring EXIF orientation.
func decodeImage(fs afero.Fs, path string) (image.Image, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %q", path)
	}
	defer func() { _ = f.Close() }()
	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", path)
	}
	return img, nil
}

// requireDir returns ErrDatasetNotFound (naming path) unless path is an
// existing directory.
func requireDir(fs afero.Fs, path string) error {
	ok, err := afero.DirExists(fs, path)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %q", path)
	}
	if !ok {
		return errors.Wrapf(ErrDatasetNotFound, "directory %q does not exist", path)
	}
	return nil
}

// requireFile returns ErrDatasetNotFound (naming path) unless path is an
// existing regular file, otherwise its size.
func requireFile(fs afero.Fs, path string) (int64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.Wrapf(ErrDatasetNotFound, "file %q does not exist", path)
		}
		return 0, errors.Wrapf(err, "failed to stat %q", path)
	}
	if info.IsDir() {
		return 0, errors.Wrapf(ErrDatasetNotFound, "%q is a directory, expected a file", path)
	}
	return info.Size(), nil
}

// newRGB returns an opaque width x height image ready to be filled with
// setRGB.
func newRGB(width, height int) *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, width, height))
}

func setRGB(img *image.NRGBA, x, y int, r, g, b uint8) {
	pos := y*img.Stride + x*4
	img.Pix[pos] = r
	img.Pix[pos+1] = g
	img.Pix[pos+2] = b
	img.Pix[pos+3] = 255
}
