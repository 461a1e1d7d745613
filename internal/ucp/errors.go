package ucp

import "github.com/pkg/errors"

// Errors returned while loading a universal checkpoint. All of them are fatal to
// the load; nothing is retried and partially loaded state must be discarded.
var (
	ErrNumelMismatch      = errors.New("full parameter size does not match tensor-parallel slices")
	ErrVocabTooLarge      = errors.New("saved vocabulary exceeds padded target size")
	ErrSizeMismatch       = errors.New("destination and source sizes differ")
	ErrUnevenSplit        = errors.New("tensor does not split evenly across ranks")
	ErrStepMismatch       = errors.New("param group steps are not equal")
	ErrMissingGlobalState = errors.New("optimizer global state is missing")
	ErrNoMapping          = errors.New("parameter has no optimizer fragment mapping")
)
