package loaders

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Split is a partition of a dataset.
type Split string

const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
)

// ParseSplit parses a split name, case-insensitively.
func ParseSplit(s string) (Split, error) {
	switch Split(strings.ToLower(strings.TrimSpace(s))) {
	case SplitTrain:
		return SplitTrain, nil
	case SplitVal:
		return SplitVal, nil
	case SplitTest:
		return SplitTest, nil
	}
	return "", errors.Wrapf(ErrInvalidRequest, "unknown split %q, valid splits are train, val and test", s)
}

// ParseSplits parses a comma separated list of split names. An empty
// string is an empty set.
func ParseSplits(s string) ([]Split, error) {
	var splits []Split
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		split, err := ParseSplit(part)
		if err != nil {
			return nil, err
		}
		splits = append(splits, split)
	}
	return splits, nil
}

// Kind is the storage format of a dataset.
type Kind int

const (
	KindFolder Kind = iota
	KindCIFAR10
	KindCIFAR100
	KindSVHN
	KindTinyImages
)

func (k Kind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindCIFAR10:
		return "cifar10"
	case KindCIFAR100:
		return "cifar100"
	case KindSVHN:
		return "svhn"
	case KindTinyImages:
		return "tinyimages"
	}
	return "unknown"
}

// SplitSpec is how one split of an ID dataset is loaded.
type SplitSpec struct {
	Slot    Slot
	Shuffle bool
}

// Descriptor is the static description of an in-distribution dataset.
type Descriptor struct {
	Name       string
	Kind       Kind
	NumClasses int

	// Dir of a folder dataset, relative to the data root; each split is a
	// sub-directory named after it.
	Dir string

	// LargeScale ID datasets make OOD validation use large-scale recipes.
	LargeScale bool

	// Splits supported. The shuffle flags differ between datasets and are
	// kept as they were tuned.
	Splits map[Split]SplitSpec
}

// SplitDir returns the folder of split, relative to the data root.
func (d Descriptor) SplitDir(split Split) string {
	return filepath.Join(d.Dir, string(split))
}

func folderDescriptor(name, dir string, classes int, train Slot, eval Slot, shuffleVal bool, withTest bool) Descriptor {
	d := Descriptor{
		Name:       name,
		Kind:       KindFolder,
		NumClasses: classes,
		Dir:        filepath.Join("id_data", dir),
		Splits: map[Split]SplitSpec{
			SplitTrain: {Slot: train, Shuffle: true},
			SplitVal:   {Slot: eval, Shuffle: shuffleVal},
		},
	}
	if withTest {
		d.Splits[SplitTest] = SplitSpec{Slot: eval}
	}
	return d
}

var inRegistry = map[string]Descriptor{
	"CIFAR-10": {
		Name: "CIFAR-10", Kind: KindCIFAR10, NumClasses: 10,
		Splits: map[Split]SplitSpec{
			SplitTrain: {Slot: SlotTrain, Shuffle: true},
			SplitVal:   {Slot: SlotTest, Shuffle: true},
		},
	},
	"CIFAR-100": {
		Name: "CIFAR-100", Kind: KindCIFAR100, NumClasses: 100,
		Splits: map[Split]SplitSpec{
			SplitTrain: {Slot: SlotTrain, Shuffle: true},
			SplitVal:   {Slot: SlotTest, Shuffle: true},
		},
	},
	"imagenet": {
		Name: "imagenet", Kind: KindFolder, NumClasses: 1000,
		Dir: filepath.Join("id_data", "imagenet"), LargeScale: true,
		Splits: map[Split]SplitSpec{
			SplitTrain: {Slot: SlotTrainLargeScale, Shuffle: true},
			SplitVal:   {Slot: SlotTestLargeScale, Shuffle: true},
		},
	},
	"rsicd_in":         folderDescriptor("rsicd_in", "rsicd_in", 23, SlotTrain, SlotTest, false, true),
	"mnist_fashion_in": folderDescriptor("mnist_fashion_in", "mnist_fashion_in", 7, SlotFashion, SlotFashion, false, true),
	"xView2_in":        folderDescriptor("xView2_in", "xview2_in", 7, SlotTrain, SlotTest, false, true),
	"rice_in":          folderDescriptor("rice_in", "rice_in", 3, SlotTrain, SlotTest, true, false),
	"sen12ms_in":       folderDescriptor("sen12ms_in", "sen12ms_in", 9, SlotSEN12MS, SlotSEN12MS, false, true),
	"cifar10_in":       folderDescriptor("cifar10_in", "cifar10_in", 6, SlotCIFAR10, SlotCIFAR10, false, true),
	"so2sat_in":        folderDescriptor("so2sat_in", "so2sat_in", 10, SlotSO2SAT, SlotSO2SAT, false, true),
}

// LookupDataset returns the descriptor of an ID dataset. Names are case
// sensitive.
func LookupDataset(name string) (Descriptor, error) {
	d, found := inRegistry[name]
	if !found {
		return Descriptor{}, errors.Wrapf(ErrUnknownDataset, "dataset %q (known: %s)", name, strings.Join(InDatasets(), ", "))
	}
	return d, nil
}

// InDatasets returns the registered ID dataset names, sorted.
func InDatasets() []string {
	return sortedKeys(inRegistry)
}

// OodSource is the static description of an OOD dataset.
type OodSource struct {
	Name string
	Kind Kind

	// Path relative to the data root: the folder of a folder source, the
	// file of SVHN and TinyImages. Unused for CIFAR.
	Path string

	// Slot of the recipe. Adaptive sources use SlotTestLargeScale instead
	// when the ID dataset is large-scale.
	Slot     Slot
	Adaptive bool

	Shuffle   bool
	PinMemory bool
	Unlabeled bool
}

// Training sources are matched case-insensitively.
var oodTrainRegistry = map[string]OodSource{
	"imagenet": {
		Name: "imagenet", Kind: KindFolder, Path: filepath.Join("ood_data", "imagenet"),
		Slot: SlotTrain, Shuffle: true, PinMemory: true, Unlabeled: true,
	},
	"tim": {
		Name: "tim", Kind: KindTinyImages, Path: filepath.Join("ood_data", "tim", "tiny_images.bin"),
		Slot: SlotTrain, Shuffle: true, PinMemory: true, Unlabeled: true,
	},
}

func oodFolder(name, dir string, slot Slot) OodSource {
	return OodSource{Name: name, Kind: KindFolder, Path: filepath.Join("ood_data", dir), Slot: slot}
}

var oodValRegistry = map[string]OodSource{
	"SVHN": {
		Name: "SVHN", Kind: KindSVHN, Path: filepath.Join("ood_data", "svhn", "test_32x32.mat"), Slot: SlotTest,
	},
	"dtd": {
		Name: "dtd", Kind: KindFolder, Path: filepath.Join("ood_data", "dtd", "images"),
		Slot: SlotTest, Adaptive: true, Shuffle: true,
	},
	"CIFAR-100": {Name: "CIFAR-100", Kind: KindCIFAR100, Slot: SlotTest, Shuffle: true},
	"places50":  oodFolder("places50", "Places", SlotTestLargeScale),
	"sun50":     oodFolder("sun50", "SUN", SlotTestLargeScale),
	"inat":      oodFolder("inat", "iNaturalist", SlotTestLargeScale),
	"imagenet": {
		Name: "imagenet", Kind: KindFolder, Path: filepath.Join("id_data", "imagenet", "val"),
		Slot: SlotTestLargeScale, Shuffle: true, PinMemory: true,
	},
	"sen12ms_out":       oodFolder("sen12ms_out", "sen12ms_out", SlotSEN12MS),
	"so2sat_out":        oodFolder("so2sat_out", "so2sat_out", SlotSO2SAT),
	"mnist_fashion_out": oodFolder("mnist_fashion_out", "mnist_fashion_out", SlotFashion),
	"cifar10_out":       oodFolder("cifar10_out", "cifar10_out", SlotCIFAR10),
}

// genericOodSource is the fallback for unregistered validation sources.
func genericOodSource(name string) OodSource {
	s := oodFolder(name, name, SlotTest)
	s.Adaptive = true
	return s
}

// LookupOodTrainSource returns the OOD training source, matched
// case-insensitively. The empty name and "none" mean no source: found is
// false without an error.
func LookupOodTrainSource(name string) (source OodSource, found bool, err error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || key == "none" {
		return OodSource{}, false, nil
	}
	source, found = oodTrainRegistry[key]
	if !found {
		return OodSource{}, false, errors.Wrapf(ErrUnknownOodSource, "OOD training source %q (known: %s)",
			name, strings.Join(OodTrainSources(), ", "))
	}
	return source, true, nil
}

// LookupOodValSource returns the registered validation source, or the
// generic folder source named after it. registered reports which.
func LookupOodValSource(name string) (source OodSource, registered bool, err error) {
	if strings.TrimSpace(name) == "" {
		return OodSource{}, false, errors.Wrap(ErrUnknownOodSource, "empty OOD validation source")
	}
	if source, found := oodValRegistry[name]; found {
		return source, true, nil
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return OodSource{}, false, errors.Wrapf(ErrUnknownOodSource, "OOD validation source %q is not a folder name", name)
	}
	return genericOodSource(name), false, nil
}

// OodTrainSources returns the registered OOD training source names, sorted.
func OodTrainSources() []string { return sortedKeys(oodTrainRegistry) }

// OodValSources returns the registered OOD validation source names, sorted.
func OodValSources() []string { return sortedKeys(oodValRegistry) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
