package loaders

import (
	"fmt"

	"github.com/Noofbiz/oodBowl/datasets"
	"github.com/Noofbiz/oodBowl/transforms"
	"github.com/pkg/errors"
)

// Errors returned by the factories. They are always wrapped with the
// offending identifier; test for them with errors.Is.
var (
	// ErrUnknownDataset: the ID dataset name is not registered.
	ErrUnknownDataset = errors.New("unknown in-distribution dataset")

	// ErrUnknownOodSource: the OOD source name is empty or not registered.
	ErrUnknownOodSource = errors.New("unknown OOD source")

	// ErrDatasetNotFound: an expected path is missing on disk.
	ErrDatasetNotFound = datasets.ErrDatasetNotFound

	// ErrUnknownRecipe: a slot resolved to an unregistered recipe. It
	// signals an inconsistent variant table.
	ErrUnknownRecipe = transforms.ErrUnknownRecipe

	// ErrUnknownVariant: the configuration variant is not defined.
	ErrUnknownVariant = errors.New("unknown configuration variant")

	// ErrInvalidRequest: bad batch size or split name.
	ErrInvalidRequest = errors.New("invalid loader request")
)

// unregisteredSourceError is returned when an OOD validation source is not
// registered and the generic folder it falls back to can't be loaded. It
// matches both ErrUnknownOodSource and the folder's error.
type unregisteredSourceError struct {
	source string
	path   string
	cause  error
}

func (e *unregisteredSourceError) Error() string {
	return fmt.Sprintf("%v %q: no registered loader and generic folder %q failed: %v",
		ErrUnknownOodSource, e.source, e.path, e.cause)
}

func (e *unregisteredSourceError) Is(target error) bool { return target == ErrUnknownOodSource }

func (e *unregisteredSourceError) Unwrap() error { return e.cause }
