package transforms

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solidImage returns a width x height image filled with c.
func solidImage(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestRecipeForUnknown(t *testing.T) {
	_, err := RecipeFor("no-such-recipe")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRecipe))
	assert.Contains(t, err.Error(), "no-such-recipe")
}

func TestRecipeForReturnsIdenticalCopies(t *testing.T) {
	for _, name := range Names() {
		first, err := RecipeFor(name)
		require.NoError(t, err)
		second, err := RecipeFor(name)
		require.NoError(t, err)
		assert.Equal(t, first, second, "recipe %q", name)
		assert.Equal(t, name, first.Name)

		// Mutating a copy must not leak into the registry.
		first.Steps[0].Size = -1
		third, err := RecipeFor(name)
		require.NoError(t, err)
		assert.Equal(t, second, third, "recipe %q", name)
	}
}

func TestRegistryNames(t *testing.T) {
	assert.Equal(t, []string{
		CIFAR10, Fashion, SEN12MS, SO2SAT, Test, TestLargeScale, Train, TrainLargeScale, TrainMNIST,
	}, Names())
}

func TestRegistryConstants(t *testing.T) {
	test, err := RecipeFor(Test)
	require.NoError(t, err)
	require.Len(t, test.Steps, 4)
	assert.Equal(t, Step{Kind: Resize, Height: 224, Width: 224}, test.Steps[0])
	assert.Equal(t, Step{Kind: CenterCrop, Size: 224}, test.Steps[1])
	assert.Equal(t, [3]float32{0.4914, 0.4822, 0.4465}, test.Steps[3].Mean)
	assert.Equal(t, [3]float32{0.2023, 0.1994, 0.2010}, test.Steps[3].Std)

	train, err := RecipeFor(Train)
	require.NoError(t, err)
	assert.Equal(t, Step{Kind: RandomCrop, Size: 224, Padding: 4}, train.Steps[0])
	assert.Equal(t, 0.5, train.Steps[1].Probability)

	large, err := RecipeFor(TestLargeScale)
	require.NoError(t, err)
	assert.Equal(t, Step{Kind: Resize, Size: 256}, large.Steps[0])
	assert.Equal(t, [3]float32{0.485, 0.456, 0.406}, large.Steps[3].Mean)
	assert.Equal(t, [3]float32{0.229, 0.224, 0.225}, large.Steps[3].Std)

	so2sat, err := RecipeFor(SO2SAT)
	require.NoError(t, err)
	assert.Equal(t, [3]float32{0.2380, 0.3153, 0.5004}, so2sat.Steps[2].Mean)
	assert.Equal(t, [3]float32{0.0798, 0.1843, 0.0666}, so2sat.Steps[2].Std)
}

func TestApplyOutputShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	testCases := []struct {
		recipe        string
		width, height int
		wantW, wantH  int
	}{
		{Test, 32, 48, 224, 224},
		{TestLargeScale, 400, 300, 224, 224},
		{TrainLargeScale, 400, 300, 224, 224},
		{TrainMNIST, 28, 28, 224, 224},
		{Train, 300, 260, 224, 224},
		// Short-side resize without crop keeps the aspect ratio.
		{Fashion, 28, 56, 224, 448},
		{CIFAR10, 64, 32, 448, 224},
	}
	for _, tc := range testCases {
		r, err := RecipeFor(tc.recipe)
		require.NoError(t, err)
		out, err := Apply(solidImage(tc.width, tc.height, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), r, rng)
		require.NoError(t, err, "recipe %q", tc.recipe)
		assert.Equal(t, tc.wantW, out.Width, "recipe %q", tc.recipe)
		assert.Equal(t, tc.wantH, out.Height, "recipe %q", tc.recipe)
		assert.Len(t, out.Pixels, tc.wantW*tc.wantH*Channels, "recipe %q", tc.recipe)
	}
}

func TestApplyNormalizes(t *testing.T) {
	r, err := RecipeFor(Fashion)
	require.NoError(t, err)
	out, err := Apply(solidImage(224, 224, color.NRGBA{R: 255, G: 0, B: 51, A: 255}), r, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	want := []float32{
		(1.0 - 0.3201) / 0.1804,
		(0.0 - 0.3182) / 0.3569,
		(0.2 - 0.3629) / 0.1131,
	}
	for c := 0; c < Channels; c++ {
		assert.InDelta(t, want[c], out.Pixels[c], 1e-4, "channel %d", c)
		assert.InDelta(t, want[c], out.Pixels[len(out.Pixels)-Channels+c], 1e-4, "channel %d", c)
	}
}

func TestApplyRandomCropTooLarge(t *testing.T) {
	r, err := RecipeFor(Train)
	require.NoError(t, err)
	_, err = Apply(solidImage(32, 32, color.NRGBA{A: 255}), r, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCropTooLarge))
	assert.Contains(t, err.Error(), Train)
}

func TestApplyIsDeterministicForSeed(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 320, 240))
	for ii := range img.Pix {
		img.Pix[ii] = uint8(ii * 7)
	}
	r, err := RecipeFor(TrainLargeScale)
	require.NoError(t, err)
	first, err := Apply(img, r, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	second, err := Apply(img, r, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, first.Pixels, second.Pixels)
}

func TestApplyInvalidRecipes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	img := solidImage(8, 8, color.NRGBA{A: 255})

	_, err := Apply(img, Recipe{Name: "no-tensor", Steps: []Step{centerCrop(4)}}, rng)
	assert.Error(t, err)

	_, err = Apply(img, Recipe{Name: "early-normalize", Steps: []Step{normalize(cifarMean, cifarStd), toTensor()}}, rng)
	assert.Error(t, err)

	_, err = Apply(img, Recipe{Name: "late-crop", Steps: []Step{toTensor(), centerCrop(4)}}, rng)
	assert.Error(t, err)
}

func TestCenterCropPadsSmallImages(t *testing.T) {
	img := solidImage(10, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	cropped := centerCropImage(img, 6)
	assert.Equal(t, image.Pt(6, 6), cropped.Bounds().Size())

	// Top row is padding (black), middle rows are the original white pixels.
	r, _, _, _ := cropped.At(cropped.Bounds().Min.X, cropped.Bounds().Min.Y).RGBA()
	assert.Equal(t, uint32(0), r)
	r, _, _, _ = cropped.At(cropped.Bounds().Min.X+3, cropped.Bounds().Min.Y+3).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestResizeShortSide(t *testing.T) {
	out := resize(solidImage(100, 50, color.NRGBA{A: 255}), resizeShortSide(256))
	assert.Equal(t, image.Pt(512, 256), out.Bounds().Size())

	out = resize(solidImage(30, 70, color.NRGBA{A: 255}), resizeShortSide(224))
	assert.Equal(t, image.Pt(224, 522), out.Bounds().Size())
}
