package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_publish_total",
		Help: "Events published per type.",
	}, []string{"type"})
	publishDropTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_publish_drop_total",
		Help: "Events dropped because the broadcaster returned an error.",
	}, []string{"type"})
	notificationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_notification_total",
		Help: "Notification records created per type.",
	}, []string{"type"})
)
