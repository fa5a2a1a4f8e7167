// Package probe trains a small classifier on the batches of an ID loader
// and scores OOD batches with it, to sanity check a loader bundle end to
// end without a deep-learning backend.
package probe

import (
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config holds configurable hyperparameters for the MLP model and training.
type Config struct {
	// NumClasses is the number of output logits. Required.
	NumClasses int

	// HiddenSizes is the list of hidden layer sizes. If empty, a single
	// hidden layer of size 32 will be used.
	HiddenSizes []int

	// Pool is the side of the average-pooled image the model sees: inputs
	// have Pool*Pool*3 features. Default 4.
	Pool int

	// LearningRate of the SGD updates before any decay. Default 0.05.
	LearningRate float64

	// Epochs to train for. Default 10.
	Epochs int

	// Milestones are the epochs at which the learning rate is multiplied by
	// Gamma, as in a loader bundle's LRSchedule.
	Milestones []int

	// Gamma is the learning rate decay factor. Default 0.1.
	Gamma float64

	// Seed controls RNG for weight init. If zero, time-based seed is used.
	Seed int64
}

// Model is a small MLP classifying pooled images, trained with a
// self-contained mini-batch SGD on the softmax cross-entropy.
type Model struct {
	// Config used for training / initialization.
	Config Config

	// layerSizes includes input size, hidden sizes, then output size.
	layerSizes []int

	// weights[l] is a matrix of shape [out][in] for layer l -> l+1
	weights [][][]float32

	// biases[l] is a vector of length out for layer l -> l+1
	biases [][]float32

	rng *rand.Rand
}

// NewModel creates a new Model with small random weights.
func NewModel(cfg Config) (*Model, error) {
	if cfg.NumClasses < 2 {
		return nil, errors.Errorf("probe needs at least 2 classes, got %d", cfg.NumClasses)
	}
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{32}
	}
	if cfg.Pool <= 0 {
		cfg.Pool = 4
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 10
	}
	if cfg.Gamma == 0 {
		cfg.Gamma = 0.1
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	sizes := make([]int, 0, 2+len(cfg.HiddenSizes))
	sizes = append(sizes, cfg.Pool*cfg.Pool*3)
	sizes = append(sizes, cfg.HiddenSizes...)
	sizes = append(sizes, cfg.NumClasses)
	m.layerSizes = sizes

	L := len(sizes) - 1
	m.weights = make([][][]float32, L)
	m.biases = make([][]float32, L)
	for l := 0; l < L; l++ {
		in, out := sizes[l], sizes[l+1]
		// Xavier/Glorot uniform initialization
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		mat := make([][]float32, out)
		for j := range mat {
			row := make([]float32, in)
			for i := range row {
				row[i] = (m.rng.Float32()*2.0 - 1.0) * limit
			}
			mat[j] = row
		}
		m.weights[l] = mat
		m.biases[l] = make([]float32, out)
	}
	return m, nil
}

// LearningRateAt returns the learning rate used during epoch (0-based): the
// base rate multiplied by Gamma once per milestone reached.
func (m *Model) LearningRateAt(epoch int) float64 {
	lr := m.Config.LearningRate
	for _, milestone := range m.Config.Milestones {
		if epoch >= milestone {
			lr *= m.Config.Gamma
		}
	}
	return lr
}

// Features average-pools a batch of channels-last images [batch, height,
// width, channels] to pool x pool cells, returning one flat feature vector
// per image.
func Features(images *tensors.Tensor, pool int) ([][]float32, error) {
	value, ok := images.Value().([][][][]float32)
	if !ok {
		return nil, errors.Errorf("expected a float32 tensor of rank 4 [batch, height, width, channels], got %s", images.Shape())
	}
	features := make([][]float32, len(value))
	for b, img := range value {
		height := len(img)
		if height < pool || len(img[0]) < pool {
			return nil, errors.Errorf("image of %dx%d is smaller than the %dx%d pooling grid", height, len(img[0]), pool, pool)
		}
		width, channels := len(img[0]), len(img[0][0])
		sums := make([]float32, pool*pool*channels)
		counts := make([]float32, pool*pool)
		for y := 0; y < height; y++ {
			cy := y * pool / height
			for x := 0; x < width; x++ {
				cell := cy*pool + x*pool/width
				counts[cell]++
				for c := 0; c < channels; c++ {
					sums[cell*channels+c] += img[y][x][c]
				}
			}
		}
		for ii := range sums {
			sums[ii] /= counts[ii/channels]
		}
		features[b] = sums
	}
	return features, nil
}

// activationReLU applies ReLU in-place over the slice.
func activationReLU(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// softmax converts logits to probabilities in-place.
func softmax(logits []float32) {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		maxLogit = math32.Max(maxLogit, v)
	}
	var sum float32
	for i, v := range logits {
		logits[i] = math32.Exp(v - maxLogit)
		sum += logits[i]
	}
	for i := range logits {
		logits[i] /= sum
	}
}

// forwardSingle returns the pre-activations per layer and the activations
// (activations[0] is the input, the last one the class probabilities).
func (m *Model) forwardSingle(input []float32) (preActs [][]float32, acts [][]float32, err error) {
	if len(input) != m.layerSizes[0] {
		return nil, nil, errors.Errorf("input has %d features, model expects %d", len(input), m.layerSizes[0])
	}
	L := len(m.weights)
	acts = make([][]float32, L+1)
	acts[0] = input
	preActs = make([][]float32, L)
	for l := 0; l < L; l++ {
		inVec := acts[l]
		W, b := m.weights[l], m.biases[l]
		pre := make([]float32, len(b))
		for j := range pre {
			sum := b[j]
			for i, v := range inVec {
				sum += W[j][i] * v
			}
			pre[j] = sum
		}
		preActs[l] = pre

		act := append([]float32(nil), pre...)
		if l < L-1 {
			activationReLU(act)
		} else {
			softmax(act)
		}
		acts[l+1] = act
	}
	return preActs, acts, nil
}

// Predict returns the class probabilities of one feature vector.
func (m *Model) Predict(features []float32) ([]float32, error) {
	_, acts, err := m.forwardSingle(features)
	if err != nil {
		return nil, err
	}
	return acts[len(acts)-1], nil
}

// Train runs Config.Epochs epochs over ds, resetting it between epochs.
// Examples with a negative label (unlabeled data) are skipped. It returns
// the mean cross-entropy of the last epoch.
func (m *Model) Train(ds train.Dataset) (loss float64, err error) {
	for epoch := 0; epoch < m.Config.Epochs; epoch++ {
		if epoch > 0 {
			ds.Reset()
		}
		lr := float32(m.LearningRateAt(epoch))
		var total float64
		var count int
		for {
			_, inputs, labels, err := ds.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				return 0, errors.WithMessagef(err, "epoch %d", epoch)
			}
			batchLoss, n, err := m.trainBatch(inputs, labels, lr)
			if err != nil {
				return 0, errors.WithMessagef(err, "epoch %d", epoch)
			}
			total += batchLoss
			count += n
		}
		if count == 0 {
			return 0, errors.Errorf("%s yielded no labeled examples", ds.Name())
		}
		loss = total / float64(count)
		klog.V(1).Infof("probe epoch %d: lr=%g loss=%.4f (%d examples)", epoch, lr, loss, count)
	}
	return loss, nil
}

// trainBatch accumulates the gradients of one batch and applies an averaged
// SGD update. It returns the summed loss and the number of examples used.
func (m *Model) trainBatch(inputs, labels []*tensors.Tensor, lr float32) (float64, int, error) {
	if len(inputs) != 1 || len(labels) != 1 {
		return 0, 0, errors.Errorf("expected 1 input and 1 label tensor, got %d and %d", len(inputs), len(labels))
	}
	features, err := Features(inputs[0], m.Config.Pool)
	if err != nil {
		return 0, 0, err
	}
	classes, ok := labels[0].Value().([]int32)
	if !ok || len(classes) != len(features) {
		return 0, 0, errors.Errorf("expected int32 labels of shape [%d], got %s", len(features), labels[0].Shape())
	}

	L := len(m.weights)
	gradW := make([][][]float32, L)
	gradB := make([][]float32, L)
	for l := 0; l < L; l++ {
		gradW[l] = make([][]float32, len(m.biases[l]))
		for j := range gradW[l] {
			gradW[l][j] = make([]float32, len(m.weights[l][0]))
		}
		gradB[l] = make([]float32, len(m.biases[l]))
	}

	var loss float64
	var n int
	for ex, in := range features {
		label := int(classes[ex])
		if label < 0 {
			continue
		}
		if label >= m.Config.NumClasses {
			return 0, 0, errors.Errorf("label %d out of range for %d classes", label, m.Config.NumClasses)
		}
		preacts, acts, err := m.forwardSingle(in)
		if err != nil {
			return 0, 0, err
		}
		n++

		// dLoss/dLogits = probabilities - onehot(label)
		probs := acts[len(acts)-1]
		loss -= float64(math32.Log(math32.Max(probs[label], 1e-12)))
		delta := append([]float32(nil), probs...)
		delta[label] -= 1

		for l := L - 1; l >= 0; l-- {
			inAct := acts[l]
			for j, d := range delta {
				gradB[l][j] += d
				for i, v := range inAct {
					gradW[l][j][i] += d * v
				}
			}
			if l > 0 {
				newDelta := make([]float32, len(inAct))
				for i := range newDelta {
					if preacts[l-1][i] <= 0 {
						continue
					}
					var sum float32
					for j, d := range delta {
						sum += m.weights[l][j][i] * d
					}
					newDelta[i] = sum
				}
				delta = newDelta
			}
		}
	}
	if n == 0 {
		return 0, 0, nil
	}

	scale := lr / float32(n)
	for l := 0; l < L; l++ {
		for j := range m.biases[l] {
			m.biases[l][j] -= scale * gradB[l][j]
			for i := range m.weights[l][j] {
				m.weights[l][j][i] -= scale * gradW[l][j][i]
			}
		}
	}
	return loss, n, nil
}

// Scores returns the maximum softmax probability of every example ds
// yields until io.EOF. Higher scores mean more in-distribution.
func (m *Model) Scores(ds train.Dataset) ([]float64, error) {
	var scores []float64
	for {
		_, inputs, _, err := ds.Yield()
		if err == io.EOF {
			return scores, nil
		}
		if err != nil {
			return nil, err
		}
		if len(inputs) != 1 {
			return nil, errors.Errorf("expected 1 input tensor, got %d", len(inputs))
		}
		features, err := Features(inputs[0], m.Config.Pool)
		if err != nil {
			return nil, err
		}
		for _, in := range features {
			probs, err := m.Predict(in)
			if err != nil {
				return nil, err
			}
			best := probs[0]
			for _, p := range probs[1:] {
				best = math32.Max(best, p)
			}
			scores = append(scores, float64(best))
		}
	}
}
