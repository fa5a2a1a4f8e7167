package probe

import (
	"io"
	"math/rand"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// colorDataset yields 4x4 images whose dominant channel is the label: class
// 0 is reddish, class 1 bluish. Unlabeled datasets yield greenish images
// with label -1.
type colorDataset struct {
	batches   int
	batchSize int
	unlabeled bool
	rng       *rand.Rand
	yielded   int
}

func (d *colorDataset) Name() string { return "colors" }

func (d *colorDataset) Reset() { d.yielded = 0 }

func (d *colorDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if d.yielded >= d.batches {
		return nil, nil, nil, io.EOF
	}
	d.yielded++
	const side = 4
	pixels := make([]float32, d.batchSize*side*side*3)
	classes := make([]int32, d.batchSize)
	for b := 0; b < d.batchSize; b++ {
		label := int32(d.rng.Intn(2))
		channel := int(label) * 2
		if d.unlabeled {
			label, channel = -1, 1
		}
		classes[b] = label
		for p := 0; p < side*side; p++ {
			for c := 0; c < 3; c++ {
				v := d.rng.Float32() * 0.2
				if c == channel {
					v += 0.8
				}
				pixels[(b*side*side+p)*3+c] = v
			}
		}
	}
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(pixels, d.batchSize, side, side, 3)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(classes, d.batchSize)}
	return nil, inputs, labels, nil
}

func TestLearningRateAt(t *testing.T) {
	m, err := NewModel(Config{NumClasses: 10, LearningRate: 0.1, Milestones: []int{50, 75, 90}, Seed: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, m.LearningRateAt(0), 1e-12)
	assert.InDelta(t, 0.1, m.LearningRateAt(49), 1e-12)
	assert.InDelta(t, 0.01, m.LearningRateAt(50), 1e-12)
	assert.InDelta(t, 0.001, m.LearningRateAt(75), 1e-12)
	assert.InDelta(t, 0.0001, m.LearningRateAt(99), 1e-12)
}

func TestNewModelValidation(t *testing.T) {
	_, err := NewModel(Config{NumClasses: 1})
	assert.Error(t, err)
}

func TestFeatures(t *testing.T) {
	// One 4x4 image, 2x2 pooling: every cell averages a 2x2 block.
	pixels := make([]float32, 4*4*3)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			pixels[(y*4+x)*3] = float32(y*4 + x)
		}
	}
	features, err := Features(tensors.FromFlatDataAndDimensions(pixels, 1, 4, 4, 3), 2)
	require.NoError(t, err)
	require.Len(t, features, 1)
	require.Len(t, features[0], 2*2*3)
	assert.InDelta(t, 2.5, features[0][0], 1e-6)  // (0+1+4+5)/4
	assert.InDelta(t, 4.5, features[0][3], 1e-6)  // (2+3+6+7)/4
	assert.InDelta(t, 10.5, features[0][6], 1e-6) // (8+9+12+13)/4
	assert.InDelta(t, 0, features[0][1], 1e-6)

	_, err = Features(tensors.FromFlatDataAndDimensions(pixels, 1, 4, 4, 3), 8)
	assert.Error(t, err)
	_, err = Features(tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2), 2)
	assert.Error(t, err)
}

func TestTrainAndScore(t *testing.T) {
	m, err := NewModel(Config{NumClasses: 2, Pool: 2, HiddenSizes: []int{8}, LearningRate: 0.5, Epochs: 15, Seed: 42})
	require.NoError(t, err)

	ds := &colorDataset{batches: 8, batchSize: 8, rng: rand.New(rand.NewSource(1))}
	loss, err := m.Train(ds)
	require.NoError(t, err)
	assert.Less(t, loss, 0.3)

	// Held-out accuracy.
	test := &colorDataset{batches: 1, batchSize: 32, rng: rand.New(rand.NewSource(2))}
	_, inputs, labels, err := test.Yield()
	require.NoError(t, err)
	features, err := Features(inputs[0], 2)
	require.NoError(t, err)
	correct := 0
	for ii, f := range features {
		probs, err := m.Predict(f)
		require.NoError(t, err)
		predicted := int32(0)
		if probs[1] > probs[0] {
			predicted = 1
		}
		if predicted == labels[0].Value().([]int32)[ii] {
			correct++
		}
	}
	assert.GreaterOrEqual(t, correct, 28)

	scores, err := m.Scores(&colorDataset{batches: 2, batchSize: 4, rng: rand.New(rand.NewSource(3))})
	require.NoError(t, err)
	assert.Len(t, scores, 8)
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.5)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestTrainSkipsUnlabeled(t *testing.T) {
	m, err := NewModel(Config{NumClasses: 2, Pool: 2, Epochs: 1, Seed: 1})
	require.NoError(t, err)
	_, err = m.Train(&colorDataset{batches: 2, batchSize: 4, unlabeled: true, rng: rand.New(rand.NewSource(1))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no labeled examples")
}

func TestEvaluate(t *testing.T) {
	m, err := Evaluate([]float64{0.9, 0.8, 0.95, 0.7}, []float64{0.1, 0.2, 0.3})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.AUROC, 1e-9)
	assert.InDelta(t, 0.0, m.FPR95, 1e-9)

	m, err = Evaluate([]float64{0.1, 0.2}, []float64{0.8, 0.9})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, m.AUROC, 1e-9)
	assert.InDelta(t, 1.0, m.FPR95, 1e-9)

	// Identical scores can't be told apart.
	m, err = Evaluate([]float64{0.5, 0.5}, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.AUROC, 1e-9)

	_, err = Evaluate(nil, []float64{1})
	assert.Error(t, err)
}
