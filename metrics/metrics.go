// Package metrics defines the Prometheus collectors updated by a Group.
//
// Collectors are package-level and shared by every Group in the process.
// Nothing is registered automatically; callers that want to expose them do
//
//	prometheus.MustRegister(metrics.Collectors()...)
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values used with the collectors below.
const (
	DropMalformed    = "malformed"
	DropMismatch     = "protocol_mismatch"
	DropOwn          = "own"
	DropDuplicate    = "duplicate"
	DropStale        = "stale"
	DropReassembly   = "reassembly"
	DropHandlerQueue = "queue_full"

	DirectionSent     = "sent"
	DirectionReceived = "received"
	DirectionServed   = "served"
)

// Collectors for group traffic.
var (
	PacketsReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "langroup_packets_received_total",
		Help: "Cumulative number of valid packets received, by kind.",
	}, []string{"kind"})
	PacketsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "langroup_packets_dropped_total",
		Help: "Cumulative number of received datagrams discarded, by reason.",
	}, []string{"reason"})
	ReceiveErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langroup_receive_errors_total",
		Help: "Cumulative number of failed transport reads, excluding shutdown.",
	})
	PacketsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "langroup_packets_sent_total",
		Help: "Cumulative number of packets sent, by kind.",
	}, []string{"kind"})
	MessagesDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langroup_messages_delivered_total",
		Help: "Cumulative number of complete messages delivered to handlers.",
	})
	MessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langroup_messages_sent_total",
		Help: "Cumulative number of messages sent.",
	})
	BytesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langroup_bytes_sent_total",
		Help: "Cumulative number of message payload bytes sent.",
	})
	SequenceGapsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "langroup_sequence_gaps_total",
		Help: "Cumulative number of sequence gaps detected, by gap policy.",
	}, []string{"policy"})
	SequenceLostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langroup_sequence_lost_total",
		Help: "Cumulative number of sequence numbers given up as lost.",
	})
	RetransmitRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "langroup_retransmit_requests_total",
		Help: "Cumulative number of retransmit requests, by direction.",
	}, []string{"direction"})
	ReassemblyExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langroup_reassembly_expired_total",
		Help: "Cumulative number of incomplete messages dropped after the reassembly timeout.",
	})
	Members = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "langroup_members",
		Help: "Current number of known remote members, by group and local member id.",
	}, []string{"group", "member"})
	MembershipEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "langroup_membership_events_total",
		Help: "Cumulative number of membership events, by type.",
	}, []string{"type"})
)

// Collectors returns every collector in this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		PacketsReceivedTotal,
		PacketsDroppedTotal,
		ReceiveErrorsTotal,
		PacketsSentTotal,
		MessagesDeliveredTotal,
		MessagesSentTotal,
		BytesSentTotal,
		SequenceGapsTotal,
		SequenceLostTotal,
		RetransmitRequestsTotal,
		ReassemblyExpiredTotal,
		Members,
		MembershipEventsTotal,
	}
}
