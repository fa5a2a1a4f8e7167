// Package loaders builds the batch loaders of in-distribution (ID) and
// out-of-distribution (OOD) datasets from their names, using a static
// registry of dataset locations, class counts and preprocessing recipes.
//
// A Factory is cheap and stateless between calls: every call re-reads the
// filesystem and returns fresh loaders.
package loaders

import (
	"path/filepath"

	"github.com/Noofbiz/oodBowl/datasets"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// lrSchedule holds the epochs at which the learning rate decays, shared by
// every ID dataset.
var lrSchedule = []int{50, 75, 90}

// Factory builds loader bundles.
type Factory struct {
	fs  afero.Fs
	cfg Config

	// download fetches the CIFAR binaries into a base directory. Replaced
	// in tests.
	download func(kind datasets.CIFARKind, baseDir string) error
}

// NewFactory returns a Factory reading datasets from fs. The configuration
// is validated.
func NewFactory(fs afero.Fs, cfg Config) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Factory{fs: fs, cfg: cfg, download: datasets.DownloadCIFAR}, nil
}

// Config returns the factory configuration.
func (f *Factory) Config() Config { return f.cfg }

// InRequest selects the ID loaders to build.
type InRequest struct {
	Dataset   string
	BatchSize int
	Splits    []Split
}

// OutRequest selects the OOD loaders to build.
type OutRequest struct {
	// InDataset is the ID dataset the OOD data is compared against. It
	// picks the recipe of adaptive validation sources. Empty means a
	// small-scale ID dataset; any other name must be registered.
	InDataset string

	BatchSize int

	// TrainSource is consulted only when SplitTrain is requested, ValSource
	// only when SplitVal is.
	TrainSource string
	ValSource   string

	Splits []Split
}

func validateRequest(batchSize int, splits []Split) ([]Split, error) {
	if batchSize < 1 {
		return nil, errors.Wrapf(ErrInvalidRequest, "batch size must be at least 1, got %d", batchSize)
	}
	seen := make(map[Split]bool, len(splits))
	unique := make([]Split, 0, len(splits))
	for _, raw := range splits {
		split, err := ParseSplit(string(raw))
		if err != nil {
			return nil, err
		}
		if !seen[split] {
			seen[split] = true
			unique = append(unique, split)
		}
	}
	return unique, nil
}

// InDistribution builds the loaders of the requested splits of an ID
// dataset. An empty split set touches no file and returns only the class
// count and schedule.
//
// On error no loader is returned: a bundle is either complete or absent.
func (f *Factory) InDistribution(req InRequest) (*InBundle, error) {
	splits, err := validateRequest(req.BatchSize, req.Splits)
	if err != nil {
		return nil, err
	}
	desc, err := LookupDataset(req.Dataset)
	if err != nil {
		return nil, err
	}

	bundle := &InBundle{
		NumClasses: desc.NumClasses,
		LRSchedule: append([]int(nil), lrSchedule...),
	}
	for _, split := range splits {
		spec, found := desc.Splits[split]
		if !found {
			klog.Warningf("dataset %q has no %q split, its loader is left unset", desc.Name, split)
			continue
		}
		loader, err := f.buildIn(desc, split, spec, req.BatchSize)
		if err != nil {
			bundle.Close()
			return nil, errors.WithMessagef(err, "dataset %q split %q", desc.Name, split)
		}
		bundle.set(split, loader)
		klog.V(1).Infof("ID %s/%s: %d examples, recipe %s, shuffle=%v",
			desc.Name, split, loader.Len(), loader.Recipe().Name, spec.Shuffle)
	}
	return bundle, nil
}

func (f *Factory) buildIn(desc Descriptor, split Split, spec SplitSpec, batchSize int) (*datasets.Loader, error) {
	recipe, err := f.cfg.Variant.Recipe(spec.Slot)
	if err != nil {
		return nil, err
	}
	var source datasets.Dataset
	switch desc.Kind {
	case KindCIFAR10:
		source, err = f.openCIFAR(datasets.CIFAR10, split == SplitTrain)
	case KindCIFAR100:
		source, err = f.openCIFAR(datasets.CIFAR100, split == SplitTrain)
	case KindFolder:
		source, err = datasets.NewImageFolder(f.fs, filepath.Join(f.cfg.DataRoot, desc.SplitDir(split)))
	default:
		err = errors.Errorf("unsupported kind %s for an ID dataset", desc.Kind)
	}
	if err != nil {
		return nil, err
	}
	return datasets.NewLoader(source, recipe, datasets.Options{
		BatchSize: batchSize,
		Shuffle:   spec.Shuffle,
		Workers:   f.cfg.Workers,
		PinMemory: f.cfg.PinMemory,
		Seed:      f.cfg.Seed,
	})
}

// openCIFAR opens a CIFAR split from the download directory, downloading it
// first if missing and allowed.
func (f *Factory) openCIFAR(kind datasets.CIFARKind, train bool) (*datasets.CIFAR, error) {
	dir := filepath.Join(f.cfg.DownloadDir, kind.SubDir())
	if f.cfg.AllowDownload {
		if ok, _ := afero.DirExists(f.fs, dir); !ok {
			klog.Infof("%s not found in %q, downloading", kind, dir)
			if err := f.download(kind, f.cfg.DownloadDir); err != nil {
				return nil, err
			}
		}
	}
	return datasets.NewCIFAR(f.fs, kind, dir, train)
}

// OutOfDistribution builds the OOD training and validation loaders. A
// split other than train and val is left unset.
func (f *Factory) OutOfDistribution(req OutRequest) (*OutBundle, error) {
	splits, err := validateRequest(req.BatchSize, req.Splits)
	if err != nil {
		return nil, err
	}
	// The ID dataset only picks the recipe of adaptive sources, but a
	// misspelled name must not silently select the small-scale one.
	largeScale := false
	if req.InDataset != "" {
		desc, err := LookupDataset(req.InDataset)
		if err != nil {
			return nil, err
		}
		largeScale = desc.LargeScale
	}

	bundle := &OutBundle{}
	for _, split := range splits {
		switch split {
		case SplitTrain:
			source, found, err := LookupOodTrainSource(req.TrainSource)
			if err != nil {
				bundle.Close()
				return nil, err
			}
			if !found {
				klog.V(1).Infof("no OOD training source requested, train loader left unset")
				continue
			}
			if bundle.Train, err = f.buildOut(source, req.BatchSize, largeScale); err != nil {
				bundle.Close()
				return nil, errors.WithMessagef(err, "OOD training source %q", source.Name)
			}

		case SplitVal:
			source, registered, err := LookupOodValSource(req.ValSource)
			if err != nil {
				bundle.Close()
				return nil, err
			}
			bundle.Val, err = f.buildOut(source, req.BatchSize, largeScale)
			if err != nil {
				bundle.Close()
				if !registered {
					return nil, &unregisteredSourceError{
						source: req.ValSource,
						path:   filepath.Join(f.cfg.DataRoot, source.Path),
						cause:  err,
					}
				}
				return nil, errors.WithMessagef(err, "OOD validation source %q", source.Name)
			}

		default:
			klog.Warningf("OOD loaders have no %q split, its loader is left unset", split)
		}
	}
	return bundle, nil
}

func (f *Factory) buildOut(source OodSource, batchSize int, largeScale bool) (*datasets.Loader, error) {
	slot := source.Slot
	if source.Adaptive && largeScale {
		slot = SlotTestLargeScale
	}
	recipe, err := f.cfg.Variant.Recipe(slot)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(f.cfg.DataRoot, source.Path)
	var ds datasets.Dataset
	switch source.Kind {
	case KindFolder:
		ds, err = datasets.NewImageFolder(f.fs, path)
	case KindSVHN:
		ds, err = datasets.NewSVHN(f.fs, path)
	case KindTinyImages:
		ds, err = datasets.NewTinyImages(f.fs, path)
	case KindCIFAR100:
		ds, err = f.openCIFAR(datasets.CIFAR100, false)
	case KindCIFAR10:
		ds, err = f.openCIFAR(datasets.CIFAR10, false)
	default:
		err = errors.Errorf("unsupported kind %s for an OOD source", source.Kind)
	}
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("OOD %s: %d examples, recipe %s, shuffle=%v", source.Name, ds.Len(), recipe.Name, source.Shuffle)
	return datasets.NewLoader(ds, recipe, datasets.Options{
		BatchSize: batchSize,
		Shuffle:   source.Shuffle,
		Workers:   f.cfg.Workers,
		PinMemory: source.PinMemory && f.cfg.PinMemory,
		Seed:      f.cfg.Seed,
		Unlabeled: source.Unlabeled,
	})
}
