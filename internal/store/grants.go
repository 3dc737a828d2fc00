package store

import (
	"context"
	"slices"

	"codeberg.org/mutker/healthsynth/internal/errors"
)

// Grants decides authorization requests for the bundled backends.
// An empty allow list grants every known type.
type Grants struct {
	Allow []SampleType
}

// Authorize grants the request only when every type is allowed.
func (g Grants) Authorize(ctx context.Context, types []SampleType) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var denied []SampleType
	for _, t := range types {
		if !g.allows(t) {
			denied = append(denied, t)
		}
	}
	if len(denied) > 0 {
		return false, errors.New().WithData(errors.ErrUnauthorized, denied)
	}
	return true, nil
}

func (g Grants) allows(t SampleType) bool {
	if len(g.Allow) == 0 {
		return slices.Contains(KnownTypes, t)
	}
	return slices.Contains(g.Allow, t)
}

// Supports reports whether t is a type the bundled backends can store.
func Supports(t SampleType) bool {
	return slices.Contains(KnownTypes, t)
}

// ValidateSample rejects samples that no backend can persist.
func ValidateSample(s Sample) error {
	errFactory := errors.New()

	if !Supports(s.Type) {
		return errFactory.WithData(ErrTypeUnavailable, s.Type)
	}
	if !s.Start.Before(s.End) {
		return errFactory.WithData(ErrInvalidSample, struct {
			Metric string
			Start  string
			End    string
		}{
			Metric: s.Metric,
			Start:  s.Start.String(),
			End:    s.End.String(),
		})
	}
	return nil
}
