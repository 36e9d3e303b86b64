// Package metrics exposes conductor scheduling and device metrics in the
// Prometheus text format.
//
// Usage:
//
//	m := metrics.New(cfg.Metrics.Namespace)
//	c := conductor.New(conductor.Options{Metrics: m})
//	r.Handle("/api/v1/metrics", m.Handler(nil))
package metrics
