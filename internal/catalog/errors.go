package catalog

import "codeberg.org/mutker/healthsynth/internal/errors"

const (
	ErrInvalidMetric   = errors.ErrorCode("catalog_invalid_metric")
	ErrDuplicateMetric = errors.ErrorCode("catalog_duplicate_metric")
	ErrUnknownMetric   = errors.ErrorCode("catalog_unknown_metric")
	ErrEmptyCatalog    = errors.ErrorCode("catalog_empty")
)

func init() {
	errors.RegisterMessage(ErrInvalidMetric, "Invalid metric definition")
	errors.RegisterMessage(ErrDuplicateMetric, "Duplicate metric name")
	errors.RegisterMessage(ErrUnknownMetric, "Unknown metric")
	errors.RegisterMessage(ErrEmptyCatalog, "Catalog has no metrics")
}
