// Copyright 2025 Tom Barlow
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

package hook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehook_activations_total",
			Help: "Hook activations by result (started, skipped, failed)",
		},
		[]string{"result"},
	)

	teardownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehook_teardowns_total",
			Help: "Node teardowns by result (ok, failed)",
		},
		[]string{"result"},
	)

	teardownFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehook_teardown_failures_total",
			Help: "Individual teardown failures by step",
		},
		[]string{"step"},
	)

	hooksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodehook_hooks_running",
		Help: "Hook processes currently running",
	})

	hookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nodehook_hook_duration_seconds",
		Help:    "Wall time from hook launch to exit",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800, 3600},
	})

	artifactsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodehook_artifacts_open",
		Help: "Temporary files currently held on disk for running hooks",
	})
)
