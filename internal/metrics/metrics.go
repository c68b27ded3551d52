package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cep_events_enqueued_total",
		Help: "Total number of events placed on a partition queue.",
	})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cep_events_processed_total",
		Help: "Total number of events fully evaluated.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cep_events_dropped_total",
		Help: "Total number of events rejected due to a full queue.",
	})

	EventsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cep_events_abandoned_total",
		Help: "Total number of events whose evaluation was abandoned because of their shape.",
	})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cep_event_processing_duration_ms",
		Help:    "End-to-end event processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cep_queue_utilization_ratio",
		Help: "Current partition queue utilization (0–1), highest partition.",
	})

	RuleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cep_rule_evaluations_total",
		Help: "Rule evaluation attempts, labelled by outcome.",
	}, []string{"outcome"})

	RuleHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cep_rule_hits_total",
		Help: "Rule matches, labelled by rule ID.",
	}, []string{"rule_id"})

	RuleEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cep_rule_evaluation_duration_us",
		Help:    "Per-rule evaluation latency including dispatch, in microseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000, 5000},
	})

	ConditionEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cep_condition_evaluation_duration_us",
		Help:    "Per-rule condition evaluation latency, in microseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000, 5000},
	})

	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cep_actions_dispatched_total",
		Help: "Actions dispatched to the result sink, labelled by type and status.",
	}, []string{"action_type", "status"})

	RuleUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cep_rule_updates_total",
		Help: "Rule update commands, labelled by operation and result.",
	}, []string{"operation", "result"})

	TemplateUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cep_template_updates_total",
		Help: "Template update commands, labelled by operation and result.",
	}, []string{"operation", "result"})

	AlertsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cep_alerts_published_total",
		Help: "Outputs handed to the publisher, labelled by kind.",
	}, []string{"kind"})

	AggregationValues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cep_aggregation_values_total",
		Help: "Values offered to aggregation windows, labelled by result.",
	}, []string{"result"})

	AggregationResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cep_aggregation_results_total",
		Help: "Window results emitted.",
	})

	AggregationFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cep_aggregation_flushes_total",
		Help: "Aggregation checkpoints, labelled by status.",
	}, []string{"status"})
)
