package loaders

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config holds the process-wide settings shared by every loader a Factory
// builds.
type Config struct {
	// DataRoot is the directory holding id_data/ and ood_data/.
	DataRoot string `yaml:"data_root"`

	// DownloadDir is where the CIFAR binaries are (or get downloaded).
	DownloadDir string `yaml:"download_dir"`

	// AllowDownload lets the factory fetch missing CIFAR binaries. Downloads
	// always go to the OS filesystem.
	AllowDownload bool `yaml:"allow_download"`

	// Workers per loader. With more than 1, batches are prefetched in
	// parallel.
	Workers int `yaml:"workers"`

	// PinMemory is passed to ID loaders and the loaders that mirror them.
	PinMemory bool `yaml:"pin_memory"`

	// Variant selects the slot to recipe table.
	Variant Variant `yaml:"variant"`

	// Seed for shuffling and augmentation, 0 for a time based seed.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the configuration matching the standard on-disk
// layout.
func DefaultConfig() Config {
	return Config{
		DataRoot:      "datasets",
		DownloadDir:   "./data",
		AllowDownload: true,
		Workers:       2,
		PinMemory:     true,
		Variant:       VariantDefault,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.DataRoot == "" {
		return errors.New("config: data_root must be set")
	}
	if c.DownloadDir == "" {
		return errors.New("config: download_dir must be set")
	}
	if c.Workers < 0 {
		return errors.Errorf("config: workers must be >= 0, got %d", c.Workers)
	}
	if _, err := c.Variant.table(); err != nil {
		return errors.WithMessage(err, "config")
	}
	return nil
}

// LoadConfig reads a YAML configuration from path. Fields absent from the
// file keep their DefaultConfig value.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.WithMessagef(err, "invalid config %q", path)
	}
	return cfg, nil
}
