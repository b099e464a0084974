// Copyright 2026 The vmmkit Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vmm

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"vmmkit.dev/vmmkit/pkg/cpuid"
)

// metrics are the per-instance counters. Each instance has its own registry
// so that instances in one process do not collide.
type metrics struct {
	registry *prometheus.Registry

	// exits is indexed by cpuid.Source. The counters are resolved once so
	// that the exit path is a single atomic add.
	exits        []prometheus.Counter
	publications prometheus.Counter
}

func newMetrics(instance string, vcpus uint32) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"instance": instance}

	exits := factory.NewCounterVec(prometheus.CounterOpts{
		Name:        "vmm_cpuid_exits_total",
		Help:        "CPUID exits handled, by where the answer came from.",
		ConstLabels: labels,
	}, []string{"source"})
	m := &metrics{
		registry: reg,
		exits:    make([]prometheus.Counter, len(cpuid.Sources)),
		publications: factory.NewCounter(prometheus.CounterOpts{
			Name:        "vmm_cpuid_publications_total",
			Help:        "CPUID snapshots published.",
			ConstLabels: labels,
		}),
	}
	for _, src := range cpuid.Sources {
		m.exits[src] = exits.WithLabelValues(src.String())
	}
	factory.NewGauge(prometheus.GaugeOpts{
		Name:        "vmm_vcpus",
		Help:        "Number of vCPUs.",
		ConstLabels: labels,
	}).Set(float64(vcpus))
	return m
}

// Registry returns the registry holding the instance metrics.
func (i *Instance) Registry() *prometheus.Registry {
	return i.metrics.registry
}

// WriteMetrics writes the instance metrics in the Prometheus text format.
func (i *Instance) WriteMetrics(w io.Writer) error {
	families, err := i.metrics.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
