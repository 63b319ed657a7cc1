// Package metrics exposes the engine's Prometheus instruments. Everything is
// registered on the default registry so a promhttp handler picks it up.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Steps counts scheduler single-step calls by outcome
	// ("productive", "idle", "error").
	Steps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentpipe_scheduler_steps_total",
		Help: "Scheduler single-step calls by outcome.",
	}, []string{"outcome"})

	// Sends counts output-port send operations.
	Sends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentpipe_port_sends_total",
		Help: "Send calls on output ports.",
	})

	// Deliveries counts messages enqueued on input ports.
	Deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentpipe_port_deliveries_total",
		Help: "Messages delivered into input port queues.",
	})

	// Errors counts step failures wrapped into scheduler errors.
	Errors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentpipe_scheduler_errors_total",
		Help: "Agent step failures captured by the scheduler.",
	})

	// Checkpoints counts snapshot writes by result ("ok", "failed").
	Checkpoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentpipe_checkpoints_total",
		Help: "Checkpoint snapshot writes by result.",
	}, []string{"result"})

	// QueueDepth tracks input queue depth per agent kind and port.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentpipe_queue_depth",
		Help: "Input port queue depth.",
	}, []string{"kind", "port"})
)
