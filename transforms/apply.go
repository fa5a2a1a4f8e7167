package transforms

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ErrCropTooLarge is returned when a random crop is larger than the (padded) image.
var ErrCropTooLarge = errors.New("crop size larger than image")

// Channels is the number of channels of every Output: alpha is dropped.
const Channels = 3

// Output is an image converted to float32, laid out channels-last
// ([Height, Width, Channels]), the layout gomlx image tensors use.
type Output struct {
	Pixels        []float32
	Height, Width int
}

// Apply runs the recipe steps on img. Random steps draw from rng, which must
// not be shared with concurrent callers.
//
// Image steps are only valid before ToTensor, Normalize only after it, and the
// recipe must include a ToTensor.
func Apply(img image.Image, r Recipe, rng *rand.Rand) (*Output, error) {
	var out *Output
	for ii, step := range r.Steps {
		if out != nil && step.Kind != Normalize {
			return nil, errors.Errorf("recipe %q step #%d %s: image step after ToTensor", r.Name, ii, step)
		}
		var err error
		switch step.Kind {
		case Resize:
			img = resize(img, step)
		case CenterCrop:
			img = centerCropImage(img, step.Size)
		case RandomCrop:
			img, err = randomCropImage(img, step.Size, step.Padding, rng)
		case RandomResizedCrop:
			img = randomResizedCropImage(img, step, rng)
		case RandomHorizontalFlip:
			if rng.Float64() < step.Probability {
				img = imaging.FlipH(img)
			}
		case ToTensor:
			out = toFloat(img)
		case Normalize:
			if out == nil {
				return nil, errors.Errorf("recipe %q step #%d %s: Normalize before ToTensor", r.Name, ii, step)
			}
			normalizeInPlace(out, step.Mean, step.Std)
		default:
			err = errors.Errorf("unsupported step kind %s", step.Kind)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "recipe %q step #%d %s", r.Name, ii, step)
		}
	}
	if out == nil {
		return nil, errors.Errorf("recipe %q has no ToTensor step", r.Name)
	}
	return out, nil
}

// resize either resizes to the exact Height x Width, or scales the shorter
// side to Size keeping the aspect ratio (the longer side is truncated).
func resize(img image.Image, step Step) image.Image {
	size := img.Bounds().Size()
	w, h := size.X, size.Y
	if step.Height > 0 && step.Width > 0 {
		return imaging.Resize(img, step.Width, step.Height, imaging.Linear)
	}
	var newW, newH int
	if w <= h {
		newW, newH = step.Size, int(float64(step.Size)*float64(h)/float64(w))
	} else {
		newW, newH = int(float64(step.Size)*float64(w)/float64(h)), step.Size
	}
	if newW == w && newH == h {
		return img
	}
	return imaging.Resize(img, newW, newH, imaging.Linear)
}

// pad surrounds img with black pixels.
func pad(img image.Image, left, top, right, bottom int) image.Image {
	size := img.Bounds().Size()
	bg := imaging.New(size.X+left+right, size.Y+top+bottom, color.NRGBA{A: 255})
	return imaging.Paste(bg, img, image.Pt(left, top))
}

func centerCropImage(img image.Image, cropSize int) image.Image {
	size := img.Bounds().Size()
	w, h := size.X, size.Y
	if cropSize > w || cropSize > h {
		padW, padH := max(cropSize-w, 0), max(cropSize-h, 0)
		img = pad(img, padW/2, padH/2, (padW+1)/2, (padH+1)/2)
		size = img.Bounds().Size()
		w, h = size.X, size.Y
		if w == cropSize && h == cropSize {
			return img
		}
	}
	top := int(math.RoundToEven(float64(h-cropSize) / 2.0))
	left := int(math.RoundToEven(float64(w-cropSize) / 2.0))
	return crop(img, left, top, cropSize, cropSize)
}

func crop(img image.Image, left, top, width, height int) image.Image {
	origin := img.Bounds().Min
	return imaging.Crop(img, image.Rect(origin.X+left, origin.Y+top, origin.X+left+width, origin.Y+top+height))
}

func randomCropImage(img image.Image, cropSize, padding int, rng *rand.Rand) (image.Image, error) {
	if padding > 0 {
		img = pad(img, padding, padding, padding, padding)
	}
	size := img.Bounds().Size()
	w, h := size.X, size.Y
	if w < cropSize || h < cropSize {
		return nil, errors.Wrapf(ErrCropTooLarge, "crop %dx%d from image of %dx%d", cropSize, cropSize, w, h)
	}
	if w == cropSize && h == cropSize {
		return img, nil
	}
	top := rng.Intn(h - cropSize + 1)
	left := rng.Intn(w - cropSize + 1)
	return crop(img, left, top, cropSize, cropSize), nil
}

// randomResizedCropImage samples a crop of random area and aspect ratio, with
// up to 10 attempts before falling back to a ratio-clamped center crop, and
// resizes it to Size x Size.
func randomResizedCropImage(img image.Image, step Step, rng *rand.Rand) image.Image {
	size := img.Bounds().Size()
	width, height := size.X, size.Y
	area := float64(width * height)
	logRatioMin, logRatioMax := math.Log(step.RatioMin), math.Log(step.RatioMax)

	for range 10 {
		targetArea := area * (step.ScaleMin + rng.Float64()*(step.ScaleMax-step.ScaleMin))
		aspect := math.Exp(logRatioMin + rng.Float64()*(logRatioMax-logRatioMin))
		w := int(math.RoundToEven(math.Sqrt(targetArea * aspect)))
		h := int(math.RoundToEven(math.Sqrt(targetArea / aspect)))
		if w > 0 && w <= width && h > 0 && h <= height {
			top := rng.Intn(height - h + 1)
			left := rng.Intn(width - w + 1)
			return imaging.Resize(crop(img, left, top, w, h), step.Size, step.Size, imaging.Linear)
		}
	}

	inRatio := float64(width) / float64(height)
	w, h := width, height
	if inRatio < step.RatioMin {
		h = int(math.RoundToEven(float64(w) / step.RatioMin))
	} else if inRatio > step.RatioMax {
		w = int(math.RoundToEven(float64(h) * step.RatioMax))
	}
	top, left := (height-h)/2, (width-w)/2
	return imaging.Resize(crop(img, left, top, w, h), step.Size, step.Size, imaging.Linear)
}

// toFloat converts img to channels-last float32 values in [0, 1]. Alpha is dropped.
func toFloat(img image.Image) *Output {
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = imaging.Clone(img)
	}
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	out := &Output{
		Pixels: make([]float32, w*h*Channels),
		Height: h,
		Width:  w,
	}
	pos := 0
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			for c := 0; c < Channels; c++ {
				out.Pixels[pos] = float32(row[x*4+c]) / 255.0
				pos++
			}
		}
	}
	return out
}

func normalizeInPlace(out *Output, mean, std [3]float32) {
	for ii := range out.Pixels {
		c := ii % Channels
		out.Pixels[ii] = (out.Pixels[ii] - mean[c]) / std[c]
	}
}
