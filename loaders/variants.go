package loaders

import (
	"github.com/Noofbiz/oodBowl/transforms"
	"github.com/pkg/errors"
)

// Variant names a table mapping recipe slots to registered recipes. Dataset
// descriptors refer to slots, so a variant can swap the recipe of a slot
// for every dataset at once.
type Variant string

// VariantDefault is the only variant defined.
const VariantDefault Variant = "default"

// Slot is a role a recipe plays in a descriptor.
type Slot string

const (
	SlotTrain           Slot = "train"
	SlotTest            Slot = "test"
	SlotTrainLargeScale Slot = "train_largescale"
	SlotTestLargeScale  Slot = "test_largescale"
	SlotTrainMNIST      Slot = "train_mnist"
	SlotFashion         Slot = "fashion"
	SlotCIFAR10         Slot = "cifar10"
	SlotSEN12MS         Slot = "sen12ms"
	SlotSO2SAT          Slot = "so2sat"
)

var variants = map[Variant]map[Slot]string{
	VariantDefault: {
		SlotTrain:           transforms.Train,
		SlotTest:            transforms.Test,
		SlotTrainLargeScale: transforms.TrainLargeScale,
		SlotTestLargeScale:  transforms.TestLargeScale,
		// MNIST-like training reuses the large-scale augmentation.
		SlotTrainMNIST: transforms.TrainLargeScale,
		SlotFashion:    transforms.Fashion,
		SlotCIFAR10:    transforms.CIFAR10,
		SlotSEN12MS:    transforms.SEN12MS,
		SlotSO2SAT:     transforms.SO2SAT,
	},
}

func (v Variant) table() (map[Slot]string, error) {
	t, found := variants[v]
	if !found {
		return nil, errors.Wrapf(ErrUnknownVariant, "variant %q", string(v))
	}
	return t, nil
}

// Recipe resolves slot to a copy of its recipe.
func (v Variant) Recipe(slot Slot) (transforms.Recipe, error) {
	t, err := v.table()
	if err != nil {
		return transforms.Recipe{}, err
	}
	name, found := t[slot]
	if !found {
		return transforms.Recipe{}, errors.Wrapf(ErrUnknownRecipe, "variant %q has no recipe for slot %q", string(v), string(slot))
	}
	r, err := transforms.RecipeFor(name)
	if err != nil {
		return transforms.Recipe{}, errors.WithMessagef(err, "variant %q slot %q", string(v), string(slot))
	}
	return r, nil
}
