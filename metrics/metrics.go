// Package metrics is a thin facade over armon/go-metrics. Components report
// grouped counters, gauges and stopwatches; which sink receives them is
// decided once by Init.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	gometrics "github.com/armon/go-metrics"
	gmprometheus "github.com/armon/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

// Sink names accepted by MetricsCfg.
const (
	SinkBlackhole  = "blackhole"
	SinkInmem      = "inmem"
	SinkPrometheus = "prometheus"
)

// MetricsCfg selects and tunes the metrics sink.
type MetricsCfg struct {
	Sink        string `mapstructure:"sink"`
	ServiceName string `mapstructure:"serviceName"`
	// InmemInterval and InmemRetain size the in-memory sink.
	InmemInterval time.Duration `mapstructure:"inmemInterval"`
	InmemRetain   time.Duration `mapstructure:"inmemRetain"`
}

// GetName returns the configuration name for MetricsCfg
func (c *MetricsCfg) GetName() string {
	return "metrics"
}

// Validate validates the MetricsCfg parameters
func (c *MetricsCfg) Validate() error {
	switch c.Sink {
	case "", SinkBlackhole, SinkInmem, SinkPrometheus:
	default:
		return fmt.Errorf("unknown metrics sink %q", c.Sink)
	}
	if c.InmemInterval < 0 || c.InmemRetain < 0 {
		return errors.New("inmem interval and retain must not be negative")
	}
	return nil
}

// InitOption tunes Init.
type InitOption func(*initOptions)

type initOptions struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers the prometheus sink on reg instead of the
// default registerer.
func WithRegisterer(reg prometheus.Registerer) InitOption {
	return func(o *initOptions) {
		o.registerer = reg
	}
}

// Init installs the global sink described by cfg and returns it. A nil cfg
// installs the blackhole sink.
func Init(cfg *MetricsCfg, opts ...InitOption) (gometrics.MetricSink, error) {
	if cfg == nil {
		cfg = &MetricsCfg{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &initOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var sink gometrics.MetricSink
	switch cfg.Sink {
	case SinkInmem:
		interval, retain := cfg.InmemInterval, cfg.InmemRetain
		if interval == 0 {
			interval = 10 * time.Second
		}
		if retain < interval {
			retain = time.Minute
		}
		sink = gometrics.NewInmemSink(interval, retain)
	case SinkPrometheus:
		ps, err := gmprometheus.NewPrometheusSinkFrom(gmprometheus.PrometheusOpts{
			Registerer: o.registerer,
		})
		if err != nil {
			return nil, fmt.Errorf("create prometheus sink: %w", err)
		}
		sink = ps
	default:
		sink = &gometrics.BlackholeSink{}
	}

	conf := gometrics.DefaultConfig(cfg.ServiceName)
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	if _, err := gometrics.NewGlobal(conf, sink); err != nil {
		return nil, err
	}
	return sink, nil
}

func key(group, name string) []string {
	return []string{group, name}
}

func labels(dims Dimension) []gometrics.Label {
	if len(dims) == 0 {
		return nil
	}
	out := make([]gometrics.Label, 0, len(dims))
	for k, v := range dims {
		out = append(out, gometrics.Label{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IncrCounterWithGroup adds val to the counter group.name.
func IncrCounterWithGroup(group, name string, val Value) {
	gometrics.IncrCounter(key(group, name), float32(val))
}

// IncrCounterWithDimGroup adds val to the counter group.name labelled with dims.
func IncrCounterWithDimGroup(group, name string, val Value, dims Dimension) {
	gometrics.IncrCounterWithLabels(key(group, name), float32(val), labels(dims))
}

// UpdateGaugeWithGroup sets the gauge group.name.
func UpdateGaugeWithGroup(group, name string, val Value) {
	gometrics.SetGauge(key(group, name), float32(val))
}

// UpdateGaugeWithDimGroup sets the gauge group.name labelled with dims.
func UpdateGaugeWithDimGroup(group, name string, val Value, dims Dimension) {
	gometrics.SetGaugeWithLabels(key(group, name), float32(val), labels(dims))
}

// RecordStopwatchWithGroup records the time elapsed since start.
func RecordStopwatchWithGroup(group, name string, start time.Time) {
	gometrics.MeasureSince(key(group, name), start)
}

// RecordStopwatchWithDimGroup records the time elapsed since start, labelled
// with dims.
func RecordStopwatchWithDimGroup(group, name string, start time.Time, dims Dimension) {
	gometrics.MeasureSinceWithLabels(key(group, name), start, labels(dims))
}
