// Package metrics exposes the prometheus registry and the counters the
// control plane maintains, plus the HTTP handler serving them.
package metrics

import (
	"fmt"
	"net"
	"net/http"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duchynet/duchy/log"
)

var (
	// PrivateMetrics about the internal world (go process, grpc server)
	PrivateMetrics = prometheus.NewRegistry()

	// ArtifactsReceived counts artifact streams fully ingested, per kind.
	ArtifactsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "artifacts_received",
		Help: "Number of artifact streams ingested and persisted",
	}, []string{"kind"})

	// DuplicateDeliveries counts deliveries acked without a write because the
	// slot was already filled or the stage already passed.
	DuplicateDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duplicate_deliveries",
		Help: "Number of artifact deliveries acked without writing",
	}, []string{"kind"})

	// ProtocolViolations counts rejected deliveries, per kind.
	ProtocolViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "protocol_violations",
		Help: "Number of artifact deliveries rejected as protocol violations",
	}, []string{"kind"})

	// StageTransitions counts committed stage transitions, per stage entered.
	StageTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_transitions",
		Help: "Number of committed stage transitions",
	}, []string{"stage"})

	// TransitionConflicts counts transitions absorbed as benign conflicts
	// because a concurrent delivery completed the fan-in first.
	TransitionConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transition_conflicts",
		Help: "Number of stage transitions lost to a concurrent writer",
	})

	// PeerDialFailures counts failures connecting outbound.
	PeerDialFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dial_failures",
		Help: "Number of times there have been network connection issues",
	}, []string{"peer_address"})

	metricsBound = false
)

func bindMetrics() {
	if metricsBound {
		return
	}
	metricsBound = true

	PrivateMetrics.MustRegister(prometheus.NewGoCollector())
	PrivateMetrics.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	PrivateMetrics.MustRegister(
		ArtifactsReceived,
		DuplicateDeliveries,
		ProtocolViolations,
		StageTransitions,
		TransitionConflicts,
		PeerDialFailures,
	)
}

// RegisterGRPCServerMetrics hooks the grpc-prometheus server metrics into the
// private registry.
func RegisterGRPCServerMetrics(l log.Logger) {
	bindMetrics()
	if err := PrivateMetrics.Register(grpc_prometheus.DefaultServerMetrics); err != nil {
		l.Warnw("failed grpc metrics registration", "err", err)
	}
}

// Start starts a prometheus metrics server on the given port.
func Start(l log.Logger, port int) {
	bindMetrics()

	addr := fmt.Sprintf(":%d", port)
	l.Infow("starting metrics server", "addr", addr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(PrivateMetrics, promhttp.HandlerOpts{}))

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		l.Errorw("metrics server listen", "err", err)
		return
	}
	go func() {
		if err := http.Serve(lis, mux); err != nil {
			l.Errorw("metrics server stopped", "err", err)
		}
	}()
}
