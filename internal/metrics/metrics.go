// Package metrics provides an optional Prometheus-backed observability
// sink for the reactor. Wiring it is opt-in: the client's default sink is
// a no-op, so importing this package has no cost unless a caller
// constructs a Sink and passes it to mq.WithMetrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink counts packets, bytes, drops, retransmissions, and reconnects, and
// tracks the in-flight gauge. Its method set matches mq.MetricsSink
// structurally, so a *Sink can be passed directly to mq.WithMetrics
// without this package importing the root module.
type Sink struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	packetsDropped  *prometheus.CounterVec
	retransmissions prometheus.Counter
	reconnects      prometheus.Counter
	inFlight        prometheus.Gauge
}

// New builds a Sink and registers its collectors on reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to expose it on the process-wide
// /metrics endpoint.
func New(reg prometheus.Registerer, namespace string) (*Sink, error) {
	s := &Sink{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_sent_total", Help: "MQTT control packets sent, by packet type.",
		}, []string{"type"}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_received_total", Help: "MQTT control packets received, by packet type.",
		}, []string{"type"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total", Help: "Raw bytes written to the transport.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total", Help: "Raw bytes read from the transport.",
		}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_dropped_total", Help: "Inbound packets dropped, by reason.",
		}, []string{"reason"}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retransmissions_total", Help: "QoS 1/2 retransmissions sent.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total", Help: "Auto-reconnect attempts started.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "in_flight_entries", Help: "Current number of in-flight QoS 1/2 entries.",
		}),
	}

	collectors := []prometheus.Collector{
		s.packetsSent, s.packetsReceived, s.bytesSent, s.bytesReceived,
		s.packetsDropped, s.retransmissions, s.reconnects, s.inFlight,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}

	return s, nil
}

func (s *Sink) IncPacketsSent(packetType uint8) {
	s.packetsSent.WithLabelValues(packetTypeName(packetType)).Inc()
}

func (s *Sink) IncPacketsReceived(packetType uint8) {
	s.packetsReceived.WithLabelValues(packetTypeName(packetType)).Inc()
}

func (s *Sink) IncBytesSent(n int) {
	s.bytesSent.Add(float64(n))
}

func (s *Sink) IncBytesReceived(n int) {
	s.bytesReceived.Add(float64(n))
}

func (s *Sink) IncPacketsDropped(reason string) {
	s.packetsDropped.WithLabelValues(reason).Inc()
}

func (s *Sink) IncRetransmissions() {
	s.retransmissions.Inc()
}

func (s *Sink) IncReconnects() {
	s.reconnects.Inc()
}

func (s *Sink) SetInFlight(n int) {
	s.inFlight.Set(float64(n))
}

// packetTypeName avoids importing internal/packets here purely for a
// label string; the numbering is part of the MQTT wire spec and stable.
func packetTypeName(t uint8) string {
	names := [...]string{
		"RESERVED", "CONNECT", "CONNACK", "PUBLISH", "PUBACK", "PUBREC",
		"PUBREL", "PUBCOMP", "SUBSCRIBE", "SUBACK", "UNSUBSCRIBE",
		"UNSUBACK", "PINGREQ", "PINGRESP", "DISCONNECT", "AUTH",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "UNKNOWN"
}
