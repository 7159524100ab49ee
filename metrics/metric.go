// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Averager tracks a running average
type Averager interface {
	Observe(value float64)
	Read() float64
}

// averager implements Averager
type averager struct {
	mu    sync.RWMutex
	sum   float64
	count float64
	
	// Prometheus metrics
	promCount prometheus.Counter
	promSum   prometheus.Gauge
}

// NewAverager returns a new Averager. If reg is nil, the averager still
// tracks sum/count in-process but registers nothing.
func NewAverager(name, help string, reg prometheus.Registerer) (Averager, error) {
	if reg == nil {
		return &averager{}, nil
	}

	// Register two metrics: one for count and one for sum
	count := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name + "_count",
		Help: "Total # of observations of " + help,
	})
	sum := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name + "_sum",
		Help: "Sum of " + help,
	})

	if err := reg.Register(count); err != nil {
		return nil, err
	}
	if err := reg.Register(sum); err != nil {
		return nil, err
	}

	return &averager{
		promCount: count,
		promSum:   sum,
	}, nil
}

// Observe adds a value to the average
func (a *averager) Observe(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	
	a.sum += value
	a.count++
	
	// Update prometheus metrics if available
	if a.promCount != nil {
		a.promCount.Inc()
	}
	if a.promSum != nil {
		a.promSum.Add(value)
	}
}

// Read returns the current average
func (a *averager) Read() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	
	if a.count == 0 {
		return 0
	}
	return a.sum / a.count
}

// Counter tracks a count
type Counter interface {
	Inc()
	Add(delta int64)
	Read() int64
}

// counter implements Counter, optionally mirroring its value into a
// registered prometheus.Counter so registry-created counters show up on
// the /metrics endpoint, not just through Read().
type counter struct {
	mu        sync.RWMutex
	value     int64
	promCount prometheus.Counter
}

// NewCounter returns a new Counter with no prometheus backing; used by
// callers that only need an in-process tally.
func NewCounter() Counter {
	return &counter{}
}

// Inc increments the counter by 1
func (c *counter) Inc() {
	c.Add(1)
}

// Add adds delta to the counter
func (c *counter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += delta
	if c.promCount != nil {
		c.promCount.Add(float64(delta))
	}
}

// Read returns the current count
func (c *counter) Read() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Gauge tracks a value that can go up or down
type Gauge interface {
	Set(value float64)
	Add(delta float64)
	Read() float64
}

// gauge implements Gauge, optionally mirroring its value into a registered
// prometheus.Gauge, matching counter's dual in-process/prometheus role.
type gauge struct {
	mu       sync.RWMutex
	value    float64
	promGauge prometheus.Gauge
}

// NewGauge returns a new Gauge with no prometheus backing.
func NewGauge() Gauge {
	return &gauge{}
}

// Set sets the gauge to a specific value
func (g *gauge) Set(value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = value
	if g.promGauge != nil {
		g.promGauge.Set(value)
	}
}

// Add adds delta to the gauge
func (g *gauge) Add(delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value += delta
	if g.promGauge != nil {
		g.promGauge.Add(delta)
	}
}

// Read returns the current value
func (g *gauge) Read() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Registry is a collection of metrics
type Registry interface {
	NewCounter(name string) Counter
	NewGauge(name string) Gauge  
	NewAverager(name string) Averager
	GetCounter(name string) (Counter, error)
	GetGauge(name string) (Gauge, error)
	GetAverager(name string) (Averager, error)
}

// registry implements Registry, backed by a prometheus.Registerer so every
// named counter/gauge/averager it creates is both locally readable and
// scraped on /metrics.
type registry struct {
	mu        sync.RWMutex
	reg       prometheus.Registerer
	counters  map[string]Counter
	gauges    map[string]Gauge
	averagers map[string]Averager
}

// NewRegistry returns a new Registry whose created metrics are registered
// against reg. Registration failures (e.g. duplicate name) are swallowed
// and the metric falls back to in-process-only tracking, since a naming
// collision in a by-name registry is a caller bug, not something Observe/
// Inc/Set callers should have to handle.
func NewRegistry(reg prometheus.Registerer) Registry {
	return &registry{
		reg:       reg,
		counters:  make(map[string]Counter),
		gauges:    make(map[string]Gauge),
		averagers: make(map[string]Averager),
	}
}

// NewCounter creates and registers a new counter
func (r *registry) NewCounter(name string) Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &counter{}
	promCount := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: name})
	if r.reg != nil && r.reg.Register(promCount) == nil {
		c.promCount = promCount
	}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a new gauge
func (r *registry) NewGauge(name string) Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &gauge{}
	promGauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: name})
	if r.reg != nil && r.reg.Register(promGauge) == nil {
		g.promGauge = promGauge
	}
	r.gauges[name] = g
	return g
}

// NewAverager creates and registers a new averager
func (r *registry) NewAverager(name string) Averager {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := NewAverager(name, name, r.reg)
	if err != nil {
		a = &averager{}
	}
	r.averagers[name] = a
	return a
}

// GetCounter returns a counter by name
func (r *registry) GetCounter(name string) (Counter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	
	c, ok := r.counters[name]
	if !ok {
		return nil, fmt.Errorf("counter %q not found", name)
	}
	return c, nil
}

// GetGauge returns a gauge by name
func (r *registry) GetGauge(name string) (Gauge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	
	g, ok := r.gauges[name]
	if !ok {
		return nil, fmt.Errorf("gauge %q not found", name)
	}
	return g, nil
}

// GetAverager returns an averager by name
func (r *registry) GetAverager(name string) (Averager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	
	a, ok := r.averagers[name]
	if !ok {
		return nil, fmt.Errorf("averager %q not found", name)
	}
	return a, nil
}