// Package transforms holds the named preprocessing recipes applied to every
// image before batching, and the image operations that execute them.
//
// A Recipe is pure data: an ordered list of steps with fixed parameters. The
// registry is populated once at package initialization and never mutated;
// RecipeFor hands out deep copies.
package transforms

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownRecipe is returned by RecipeFor when the name is not registered.
var ErrUnknownRecipe = errors.New("unknown preprocessing recipe")

// ImageSize is the spatial size every recipe produces.
const ImageSize = 224

// StepKind enumerates the image operations a Recipe can be composed of.
type StepKind int

const (
	Resize StepKind = iota
	CenterCrop
	RandomCrop
	RandomResizedCrop
	RandomHorizontalFlip
	ToTensor
	Normalize
)

var stepKindNames = map[StepKind]string{
	Resize:               "Resize",
	CenterCrop:           "CenterCrop",
	RandomCrop:           "RandomCrop",
	RandomResizedCrop:    "RandomResizedCrop",
	RandomHorizontalFlip: "RandomHorizontalFlip",
	ToTensor:             "ToTensor",
	Normalize:            "Normalize",
}

func (k StepKind) String() string {
	if name, ok := stepKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// Step is one operation of a Recipe with its fixed parameters. Only the
// fields relevant to Kind are set.
type Step struct {
	Kind StepKind

	// Size is the short-side target for Resize (when Height and Width are
	// zero) and the square output size for the crop steps.
	Size int

	// Height and Width, when set, make Resize produce exactly that size.
	Height, Width int

	// Padding added on every side before RandomCrop.
	Padding int

	// Probability of flipping for RandomHorizontalFlip.
	Probability float64

	// Area scale and aspect ratio ranges for RandomResizedCrop.
	ScaleMin, ScaleMax float64
	RatioMin, RatioMax float64

	// Per-channel (R, G, B) constants for Normalize.
	Mean, Std [3]float32
}

func (s Step) String() string {
	switch s.Kind {
	case Resize:
		if s.Height > 0 && s.Width > 0 {
			return fmt.Sprintf("Resize(%dx%d)", s.Height, s.Width)
		}
		return fmt.Sprintf("Resize(%d)", s.Size)
	case CenterCrop:
		return fmt.Sprintf("CenterCrop(%d)", s.Size)
	case RandomCrop:
		return fmt.Sprintf("RandomCrop(%d, padding=%d)", s.Size, s.Padding)
	case RandomResizedCrop:
		return fmt.Sprintf("RandomResizedCrop(%d, scale=[%g,%g], ratio=[%g,%g])",
			s.Size, s.ScaleMin, s.ScaleMax, s.RatioMin, s.RatioMax)
	case RandomHorizontalFlip:
		return fmt.Sprintf("RandomHorizontalFlip(p=%g)", s.Probability)
	case Normalize:
		return fmt.Sprintf("Normalize(mean=%v, std=%v)", s.Mean, s.Std)
	}
	return s.Kind.String()
}

// Recipe is a named, ordered sequence of preprocessing steps.
type Recipe struct {
	Name  string
	Steps []Step
}

func (r Recipe) String() string {
	parts := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%s[%s]", r.Name, strings.Join(parts, " -> "))
}

// Clone returns a deep copy of the recipe.
func (r Recipe) Clone() Recipe {
	steps := make([]Step, len(r.Steps))
	copy(steps, r.Steps)
	return Recipe{Name: r.Name, Steps: steps}
}

// Registered recipe names.
const (
	Test            = "test"
	Train           = "train"
	TrainLargeScale = "train_largescale"
	TestLargeScale  = "test_largescale"
	TrainMNIST      = "train_mnist"
	Fashion         = "fashion"
	CIFAR10         = "cifar10"
	SEN12MS         = "sen12ms"
	SO2SAT          = "so2sat"
)

// Normalization constants. They were fit on each dataset family and are
// baked into pretrained weights evaluated with these recipes, so they must
// not change.
var (
	cifarMean    = [3]float32{0.4914, 0.4822, 0.4465}
	cifarStd     = [3]float32{0.2023, 0.1994, 0.2010}
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
	fashionMean  = [3]float32{0.3201, 0.3182, 0.3629}
	fashionStd   = [3]float32{0.1804, 0.3569, 0.1131}
	cifar10Mean  = [3]float32{0.4881, 0.4660, 0.3994}
	cifar10Std   = [3]float32{0.2380, 0.2322, 0.2413}
	sen12msMean  = [3]float32{0.1674, 0.1735, 0.2059}
	sen12msStd   = [3]float32{0.1512, 0.1152, 0.1645}
	so2satMean   = [3]float32{0.2380, 0.3153, 0.5004}
	so2satStd    = [3]float32{0.0798, 0.1843, 0.0666}
)

func resizeExact(height, width int) Step {
	return Step{Kind: Resize, Height: height, Width: width}
}

func resizeShortSide(size int) Step { return Step{Kind: Resize, Size: size} }

func centerCrop(size int) Step { return Step{Kind: CenterCrop, Size: size} }

func randomCrop(size, padding int) Step {
	return Step{Kind: RandomCrop, Size: size, Padding: padding}
}

func randomResizedCrop(size int) Step {
	return Step{
		Kind:     RandomResizedCrop,
		Size:     size,
		ScaleMin: 0.08, ScaleMax: 1.0,
		RatioMin: 3.0 / 4.0, RatioMax: 4.0 / 3.0,
	}
}

func horizontalFlip() Step { return Step{Kind: RandomHorizontalFlip, Probability: 0.5} }

func toTensor() Step { return Step{Kind: ToTensor} }

func normalize(mean, std [3]float32) Step {
	return Step{Kind: Normalize, Mean: mean, Std: std}
}

var registry = map[string]Recipe{
	Test: {Name: Test, Steps: []Step{
		resizeExact(ImageSize, ImageSize),
		centerCrop(ImageSize),
		toTensor(),
		normalize(cifarMean, cifarStd),
	}},
	Train: {Name: Train, Steps: []Step{
		randomCrop(ImageSize, 4),
		horizontalFlip(),
		toTensor(),
		normalize(cifarMean, cifarStd),
	}},
	TrainLargeScale: {Name: TrainLargeScale, Steps: []Step{
		resizeShortSide(256),
		randomResizedCrop(ImageSize),
		horizontalFlip(),
		toTensor(),
		normalize(imagenetMean, imagenetStd),
	}},
	TestLargeScale: {Name: TestLargeScale, Steps: []Step{
		resizeShortSide(256),
		centerCrop(ImageSize),
		toTensor(),
		normalize(imagenetMean, imagenetStd),
	}},
	TrainMNIST: {Name: TrainMNIST, Steps: []Step{
		resizeShortSide(ImageSize),
		randomResizedCrop(ImageSize),
		horizontalFlip(),
		toTensor(),
		normalize(cifarMean, cifarStd),
	}},
	Fashion: {Name: Fashion, Steps: []Step{
		resizeShortSide(ImageSize),
		toTensor(),
		normalize(fashionMean, fashionStd),
	}},
	CIFAR10: {Name: CIFAR10, Steps: []Step{
		resizeShortSide(ImageSize),
		toTensor(),
		normalize(cifar10Mean, cifar10Std),
	}},
	SEN12MS: {Name: SEN12MS, Steps: []Step{
		resizeShortSide(ImageSize),
		toTensor(),
		normalize(sen12msMean, sen12msStd),
	}},
	SO2SAT: {Name: SO2SAT, Steps: []Step{
		resizeShortSide(ImageSize),
		toTensor(),
		normalize(so2satMean, so2satStd),
	}},
}

// RecipeFor returns a copy of the registered recipe with the given name.
func RecipeFor(name string) (Recipe, error) {
	r, found := registry[name]
	if !found {
		return Recipe{}, errors.Wrapf(ErrUnknownRecipe, "recipe %q", name)
	}
	return r.Clone(), nil
}

// Names returns the registered recipe names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
