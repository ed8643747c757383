package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safewatch_samples_enqueued_total",
		Help: "Total number of location/sensor samples placed on the monitor queue.",
	})

	SamplesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safewatch_samples_processed_total",
		Help: "Total number of samples fully evaluated by the monitor.",
	})

	SamplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safewatch_samples_dropped_total",
		Help: "Total number of samples rejected due to a full queue.",
	})

	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safewatch_anomalies_detected_total",
		Help: "Detected anomaly signals, labelled by type and severity.",
	}, []string{"type", "severity"})

	ZoneTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safewatch_zone_transitions_total",
		Help: "Zone entries and exits observed between consecutive samples.",
	}, []string{"direction"})

	SOSTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safewatch_sos_triggered_total",
		Help: "SOS events created, labelled by trigger mode.",
	}, []string{"mode"})

	SOSRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safewatch_sos_rejected_total",
		Help: "SOS triggers rejected, labelled by reason.",
	}, []string{"reason"})

	SOSTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safewatch_sos_transitions_total",
		Help: "Lifecycle transitions, labelled by target status.",
	}, []string{"status"})

	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safewatch_escalations_total",
		Help: "Escalation records written, labelled by level and source (manual|auto).",
	}, []string{"level", "source"})

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safewatch_dispatches_total",
		Help: "Escalation notifications, labelled by target and outcome.",
	}, []string{"target", "status"})

	EvidenceSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safewatch_evidence_saved_total",
		Help: "Evidence records saved, labelled by kind.",
	}, []string{"kind"})

	SampleProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "safewatch_sample_processing_duration_ms",
		Help:    "End-to-end sample evaluation latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safewatch_queue_utilization_ratio",
		Help: "Current sample queue utilization (0-1).",
	})
)
