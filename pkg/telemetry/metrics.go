package telemetry

import (
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConversationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketchat_conversations_created_total",
		Help: "Conversations created by resolve-or-create.",
	})
	MessagesAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketchat_messages_appended_total",
		Help: "Messages durably stored, by message type.",
	}, []string{"type"})
	MessagesMarkedRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketchat_messages_marked_read_total",
		Help: "Unread markers cleared by mark-read.",
	})
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketchat_deliveries_total",
		Help: "Outbox tasks published to channels, by event kind.",
	}, []string{"kind"})
	DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketchat_delivery_failures_total",
		Help: "Failed publish attempts, by reason.",
	}, []string{"reason"})
	SubscriptionDenials = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketchat_subscription_denials_total",
		Help: "Channel subscription attempts refused by the authorization rule.",
	})
	StreamEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketchat_stream_events_total",
		Help: "Events written to server-sent event streams.",
	})
	SweeperRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketchat_sweeper_requeued_total",
		Help: "Outbox records re-enqueued by the sweeper.",
	})
	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketchat_append_seconds",
		Help:    "Latency of message append including the durable batch commit.",
		Buckets: prometheus.DefBuckets,
	})

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)
)

func init() {
	prometheus.MustRegister(
		ConversationsCreated,
		MessagesAppended,
		MessagesMarkedRead,
		Deliveries,
		DeliveryFailures,
		SubscriptionDenials,
		StreamEvents,
		SweeperRequeued,
		AppendLatency,
		heapAlloc,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "marketchat_outbox_queue_depth",
			Help: "Tasks waiting in the delivery queue.",
		}, func() float64 { return queueValue(func(q QueueSource) float64 { return float64(q.Len()) }) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "marketchat_outbox_queue_dropped_total",
			Help: "Tasks rejected because the delivery queue was full.",
		}, func() float64 { return queueValue(func(q QueueSource) float64 { return float64(q.Dropped()) }) }),
	)
}

// QueueSource reports delivery queue depth and drop totals.
type QueueSource interface {
	Len() int
	Dropped() uint64
}

var queueSrc atomic.Pointer[QueueSource]

// SetQueueSource points the queue gauges at q.
func SetQueueSource(q QueueSource) {
	queueSrc.Store(&q)
}

func queueValue(fn func(QueueSource) float64) float64 {
	p := queueSrc.Load()
	if p == nil || *p == nil {
		return 0
	}
	return fn(*p)
}
