package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound        = errors.New("resource not found")
	ErrFeatureNotFound = fmt.Errorf("%w: feature", ErrNotFound)
	ErrTargetNotFound  = fmt.Errorf("%w: target", ErrNotFound)
	ErrRunNotFound     = fmt.Errorf("%w: audit run", ErrNotFound)

	// Configuration errors
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrUnknownMetric   = errors.New("unknown association metric")
	ErrUnknownPolicy   = errors.New("unknown aggregation policy")
	ErrUnknownFilter   = errors.New("unknown node filter")
	ErrMetricMismatch  = errors.New("metric not applicable to feature types")
	ErrInvalidRegistry = errors.New("invalid feature registry")

	// Phase-ordering errors
	ErrNotTrained      = errors.New("investigation was not trained")
	ErrNotTested       = errors.New("investigation was not tested")
	ErrHoldoutMismatch = errors.New("investigations reference different holdouts")

	// Holdout lifecycle errors
	ErrHoldoutExhausted = errors.New("holdout test budget exhausted")
	ErrHoldoutBusy      = errors.New("holdout test data already checked out")

	// Data errors
	ErrDegenerateSubset = errors.New("subset too degenerate for statistic")
	ErrInsufficientData = errors.New("insufficient data for analysis")
	ErrEmptyPopulation  = errors.New("empty population")

	// Determinism errors
	ErrSeedMismatch = errors.New("seed mismatch")
	ErrHashMismatch = errors.New("hash mismatch")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewConfigError(param string, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidConfig, param, reason)
}

func NewFeatureError(name string) error {
	return fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
}

func NewPhaseError(sentinel error, detail string) error {
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrUnknownMetric) ||
		errors.Is(err, ErrUnknownPolicy) ||
		errors.Is(err, ErrUnknownFilter) ||
		errors.Is(err, ErrInvalidRegistry)
}

func IsPhaseError(err error) bool {
	return errors.Is(err, ErrNotTrained) ||
		errors.Is(err, ErrNotTested) ||
		errors.Is(err, ErrHoldoutMismatch)
}

func IsDegenerateError(err error) bool {
	return errors.Is(err, ErrDegenerateSubset) ||
		errors.Is(err, ErrInsufficientData)
}
