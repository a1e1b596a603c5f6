package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framelink_frames_sent_total",
		Help: "Frames written to a transport",
	}, []string{"transport"})

	framesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framelink_frames_received_total",
		Help: "Frames read from a transport, valid or not",
	}, []string{"transport"})

	framesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framelink_frames_rejected_total",
		Help: "Frames refused on send or receive",
	}, []string{"transport", "reason"})

	payloadBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framelink_payload_bytes_total",
		Help: "Meaningful payload bytes carried",
	}, []string{"transport", "direction"})

	subscriberDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framelink_subscriber_drops_total",
		Help: "Frames not delivered because a subscriber was not ready",
	}, []string{"transport"})
)

// Reject reasons.
const (
	ReasonInvalid   = "invalid"
	ReasonLength    = "length"
	ReasonSize      = "size"
	ReasonTransport = "transport"
	ReasonOverflow  = "overflow"
	DirectionRx     = "rx"
	DirectionTx     = "tx"
)

// FrameSent records a frame written to transport carrying payload bytes.
func FrameSent(transport string, payload int) {
	framesSentTotal.WithLabelValues(transport).Inc()
	payloadBytesTotal.WithLabelValues(transport, DirectionTx).Add(float64(payload))
}

// FrameReceived records a frame read from transport.
func FrameReceived(transport string, payload int) {
	framesReceivedTotal.WithLabelValues(transport).Inc()
	payloadBytesTotal.WithLabelValues(transport, DirectionRx).Add(float64(payload))
}

// FrameRejected records a refused frame.
func FrameRejected(transport, reason string) {
	framesRejectedTotal.WithLabelValues(transport, reason).Inc()
}

// SubscriberDropped records a frame a slow subscriber missed.
func SubscriberDropped(transport string) {
	subscriberDropsTotal.WithLabelValues(transport).Inc()
}
