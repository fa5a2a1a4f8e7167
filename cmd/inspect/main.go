package main

// inspect builds the ID and OOD loaders of a dataset pair, reads their
// batches and prints what they yield: tensor shapes, label counts and the
// memory the images take. Optionally it plots the label histograms and
// trains a small probe on the ID validation batches to measure how well the
// OOD validation batches are told apart.
//
// Usage:
//   go run ./cmd/inspect -in-dataset CIFAR-10 -splits val -ood-val SVHN
//   go run ./cmd/inspect -config loaders.yaml -in-dataset sen12ms_in -ood-val sen12ms_out -plot plots -probe

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Noofbiz/oodBowl/datasets"
	"github.com/Noofbiz/oodBowl/loaders"
	"github.com/Noofbiz/oodBowl/probe"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

const defaultInDataset = "CIFAR-10"

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "", "YAML configuration file; defaults are used if empty")
	dataRoot := flag.String("data-root", "", "overrides data_root of the configuration")
	workers := flag.Int("workers", -1, "overrides workers of the configuration if >= 0")
	seed := flag.Int64("seed", 0, "overrides seed of the configuration if != 0")
	inDataset := flag.String("in-dataset", defaultInDataset, "ID dataset: "+strings.Join(loaders.InDatasets(), ", "))
	batchSize := flag.Int("batch-size", 64, "batch size of every loader")
	splitsFlag := flag.String("splits", "train,val", "comma-separated splits to build")
	oodTrain := flag.String("ood-train", "", "OOD training source: "+strings.Join(loaders.OodTrainSources(), ", "))
	oodVal := flag.String("ood-val", "", "OOD validation source: "+strings.Join(loaders.OodValSources(), ", ")+" or a directory under data_root/ood_data")
	maxBatches := flag.Int("batches", 10, "batches to read per loader, 0 reads whole epochs")
	plotDir := flag.String("plot", "", "if set, write label histograms to this directory")
	withProbe := flag.Bool("probe", false, "train a probe on the ID val batches and score the OOD val batches")
	epochs := flag.Int("epochs", 10, "probe training epochs")
	flag.Parse()
	defer klog.Flush()

	fs := afero.NewOsFs()
	cfg := loaders.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loaders.LoadConfig(fs, *configPath); err != nil {
			klog.Exitf("failed to load configuration: %+v", err)
		}
	}
	if *dataRoot != "" {
		cfg.DataRoot = *dataRoot
	}
	if *workers >= 0 {
		cfg.Workers = *workers
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	factory, err := loaders.NewFactory(fs, cfg)
	if err != nil {
		klog.Exitf("invalid configuration: %+v", err)
	}
	splits, err := loaders.ParseSplits(*splitsFlag)
	if err != nil {
		klog.Exitf("invalid -splits: %v", err)
	}

	in, err := factory.InDistribution(loaders.InRequest{Dataset: *inDataset, BatchSize: *batchSize, Splits: splits})
	if err != nil {
		klog.Exitf("failed to build ID loaders: %+v", err)
	}
	defer in.Close()
	fmt.Printf("ID dataset %s: %d classes, LR schedule %v\n", *inDataset, in.NumClasses, in.LRSchedule)

	var oodSplits []loaders.Split
	if *oodTrain != "" {
		oodSplits = append(oodSplits, loaders.SplitTrain)
	}
	if *oodVal != "" {
		oodSplits = append(oodSplits, loaders.SplitVal)
	}
	out, err := factory.OutOfDistribution(loaders.OutRequest{
		InDataset:   *inDataset,
		BatchSize:   *batchSize,
		TrainSource: *oodTrain,
		ValSource:   *oodVal,
		Splits:      oodSplits,
	})
	if err != nil {
		klog.Exitf("failed to build OOD loaders: %+v", err)
	}
	defer out.Close()

	named := []struct {
		prefix string
		loader *datasets.Loader
	}{
		{"ID train", in.Train}, {"ID val", in.Val}, {"ID test", in.Test},
		{"OOD train", out.Train}, {"OOD val", out.Val},
	}
	for _, n := range named {
		if n.loader == nil {
			continue
		}
		fmt.Printf("%s: %s, recipe %s\n", n.prefix, n.loader.Name(), n.loader.Recipe())
		stats, err := collect(n.loader, n.loader.NumBatches(), *maxBatches, os.Stderr)
		if err != nil {
			klog.Errorf("%s: %+v", n.prefix, err)
			continue
		}
		fmt.Println(stats)
		if *plotDir != "" {
			path, err := plotLabels(*plotDir, stats)
			if err != nil {
				klog.Warningf("%s: %v", n.prefix, err)
			} else {
				klog.Infof("wrote %s", path)
			}
		}
		n.loader.Reset()
	}

	if *withProbe {
		if err := runProbe(in, out, cfg.Seed, *epochs); err != nil {
			klog.Exitf("probe failed: %+v", err)
		}
	}
}

// runProbe trains on the ID validation loader, whose recipe is
// deterministic, and compares its scores with the OOD validation ones.
func runProbe(in *loaders.InBundle, out *loaders.OutBundle, seed int64, epochs int) error {
	if in.Val == nil || out.Val == nil {
		return errors.New("the probe needs the ID and OOD val loaders, request the val split and set -ood-val")
	}
	model, err := probe.NewModel(probe.Config{
		NumClasses: in.NumClasses,
		Epochs:     epochs,
		Milestones: scaleSchedule(in.LRSchedule, epochs),
		Seed:       seed,
	})
	if err != nil {
		return err
	}
	loss, err := model.Train(in.Val)
	if err != nil {
		return err
	}
	fmt.Printf("Probe trained for %d epochs, final loss %.4f\n", epochs, loss)

	in.Val.Reset()
	idScores, err := model.Scores(in.Val)
	if err != nil {
		return err
	}
	oodScores, err := model.Scores(out.Val)
	if err != nil {
		return err
	}
	metrics, err := probe.Evaluate(idScores, oodScores)
	if err != nil {
		return err
	}
	fmt.Printf("AUROC %.4f, FPR@95%%TPR %.4f (%d ID, %d OOD examples)\n",
		metrics.AUROC, metrics.FPR95, len(idScores), len(oodScores))
	return nil
}

// scaleSchedule maps milestones given for a 100 epochs run to epochs.
func scaleSchedule(milestones []int, epochs int) []int {
	scaled := make([]int, len(milestones))
	for ii, m := range milestones {
		scaled[ii] = m * epochs / 100
	}
	return scaled
}
