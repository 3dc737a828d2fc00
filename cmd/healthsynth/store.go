package main

import (
	"context"

	"codeberg.org/mutker/healthsynth/internal/logger"
	"codeberg.org/mutker/healthsynth/internal/orchestrator"
	"codeberg.org/mutker/healthsynth/internal/store"
)

// logCounts reports how many samples of each type the store now holds in
// the run's window.
func logCounts(ctx context.Context, st store.Store, types []store.SampleType, report orchestrator.Report) {
	counter, ok := st.(store.Counter)
	if !ok {
		return
	}
	for _, t := range types {
		n, err := counter.Count(ctx, t, report.Window)
		if err != nil {
			logger.Warn().Err(err).Str("type", string(t)).Msg("failed to count samples")
			continue
		}
		logger.Info().Str("type", string(t)).Int("samples", n).Msg("Samples in window")
	}
}
