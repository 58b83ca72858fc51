package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codeblue",
			Name:      "calls_dispatched_total",
			Help:      "Voice calls dispatched, partitioned by escalation tier.",
		},
		[]string{"tier"},
	)

	dispatchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "codeblue",
			Name:      "dispatch_failures_total",
			Help:      "Per-recipient dispatch attempts that errored.",
		},
	)

	responsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codeblue",
			Name:      "responses_total",
			Help:      "Inbound response events applied, partitioned by resulting status.",
		},
		[]string{"status"},
	)

	updateConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "codeblue",
			Name:      "update_conflicts_total",
			Help:      "Incident updates dropped after exhausting conflict retries.",
		},
	)

	messagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "codeblue",
			Name:      "messages_sent_total",
			Help:      "Secondary-channel messages sent.",
		},
	)

	reportsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "codeblue",
			Name:      "reports_sent_total",
			Help:      "Final incident reports delivered.",
		},
	)
)

// Register attaches codeblue collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		callsDispatchedTotal,
		dispatchFailuresTotal,
		responsesTotal,
		updateConflictsTotal,
		messagesSentTotal,
		reportsSentTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func CallDispatched(tier int)  { callsDispatchedTotal.WithLabelValues(strconv.Itoa(tier)).Inc() }
func DispatchFailed()          { dispatchFailuresTotal.Inc() }
func ResponseApplied(s string) { responsesTotal.WithLabelValues(s).Inc() }
func UpdateConflict()          { updateConflictsTotal.Inc() }
func MessageSent()             { messagesSentTotal.Inc() }
func ReportSent()              { reportsSentTotal.Inc() }
