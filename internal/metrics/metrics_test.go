package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestSinkCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := New(reg, "mqtest")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.IncPacketsSent(3) // PUBLISH
	s.IncPacketsSent(3)
	s.IncPacketsReceived(4) // PUBACK
	s.IncBytesSent(128)
	s.IncBytesReceived(64)
	s.IncPacketsDropped("malformed")
	s.IncRetransmissions()
	s.IncReconnects()
	s.SetInFlight(5)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	byName := map[string]*dto.MetricFamily{}
	for _, mf := range mfs {
		byName[mf.GetName()] = mf
	}

	sentFamily, ok := byName["mqtest_packets_sent_total"]
	if !ok {
		t.Fatal("missing mqtest_packets_sent_total family")
	}
	var total float64
	for _, m := range sentFamily.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	if total != 2 {
		t.Errorf("packets sent total = %v, want 2", total)
	}

	inFlight, ok := byName["mqtest_in_flight_entries"]
	if !ok {
		t.Fatal("missing mqtest_in_flight_entries family")
	}
	if got := inFlight.GetMetric()[0].GetGauge().GetValue(); got != 5 {
		t.Errorf("in_flight = %v, want 5", got)
	}
}

func TestPacketTypeName(t *testing.T) {
	if got := packetTypeName(3); got != "PUBLISH" {
		t.Errorf("packetTypeName(3) = %q, want PUBLISH", got)
	}
	if got := packetTypeName(99); got != "UNKNOWN" {
		t.Errorf("packetTypeName(99) = %q, want UNKNOWN", got)
	}
}
