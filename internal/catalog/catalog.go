// Package catalog holds the metric definitions that drive generation and
// the per-metric selection toggles.
package catalog

import (
	"sync"

	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/store"
)

// Catalog is an ordered set of metrics keyed by name. Definitions are
// fixed after New; only selection flags change.
type Catalog struct {
	mu      sync.RWMutex
	metrics []Metric
	index   map[string]int
}

// New validates metrics and builds a catalog in the given order.
func New(metrics []Metric) (*Catalog, error) {
	errFactory := errors.New()

	if len(metrics) == 0 {
		return nil, errFactory.New(ErrEmptyCatalog)
	}

	c := &Catalog{
		metrics: make([]Metric, 0, len(metrics)),
		index:   make(map[string]int, len(metrics)),
	}
	for _, m := range metrics {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.index[m.Name]; dup {
			return nil, errFactory.WithData(ErrDuplicateMetric, m.Name)
		}
		c.index[m.Name] = len(c.metrics)
		c.metrics = append(c.metrics, m)
	}
	return c, nil
}

// All returns a snapshot of every metric.
func (c *Catalog) All() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Metric, len(c.metrics))
	copy(out, c.metrics)
	return out
}

func (c *Catalog) Get(name string) (Metric, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[name]
	if !ok {
		return Metric{}, false
	}
	return c.metrics[i], true
}

// SetSelected toggles a metric's selection flag.
func (c *Catalog) SetSelected(name string, selected bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[name]
	if !ok {
		return errors.New().WithData(ErrUnknownMetric, name)
	}
	c.metrics[i].Selected = selected
	return nil
}

// Selected returns the metrics to generate. Entries in overrides take
// precedence over the stored flags; unknown names are reported.
func (c *Catalog) Selected(overrides map[string]bool) ([]Metric, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name := range overrides {
		if _, ok := c.index[name]; !ok {
			return nil, errors.New().WithData(ErrUnknownMetric, name)
		}
	}

	var out []Metric
	for _, m := range c.metrics {
		selected := m.Selected
		if v, ok := overrides[m.Name]; ok {
			selected = v
		}
		if selected {
			out = append(out, m)
		}
	}
	return out, nil
}

// TrackedTypes is the union of every metric's sample type in catalog
// order, regardless of selection.
func (c *Catalog) TrackedTypes() []store.SampleType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[store.SampleType]bool, len(c.metrics))
	var types []store.SampleType
	for _, m := range c.metrics {
		if !seen[m.Type] {
			seen[m.Type] = true
			types = append(types, m.Type)
		}
	}
	return types
}
