package memcache

import "github.com/prometheus/client_golang/prometheus"

// PrometheusSink translates Sink events into Prometheus counters and
// gauges, so a caller can register one collector set and get connection
// and pool behavior for free instead of wiring its own Sink.
type PrometheusSink struct {
	connectsStarted  prometheus.Counter
	connectsSucceeded prometheus.Counter
	connectsFailed    prometheus.Counter
	connectionsClosed prometheus.Counter
	leasesActive      prometheus.Gauge
	keepAlivesOK      prometheus.Counter
	keepAlivesFailed  prometheus.Counter
	queueDepth        prometheus.Gauge
	utilization       *prometheus.GaugeVec
}

// NewPrometheusSink builds a PrometheusSink and registers its collectors
// on reg. namespace/subsystem follow the usual prometheus.Opts
// convention, e.g. namespace="myapp", subsystem="metacache".
func NewPrometheusSink(reg prometheus.Registerer, namespace, subsystem string) *PrometheusSink {
	s := &PrometheusSink{
		connectsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connects_started_total",
			Help: "Number of connection attempts started.",
		}),
		connectsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connects_succeeded_total",
			Help: "Number of connection attempts that succeeded.",
		}),
		connectsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connects_failed_total",
			Help: "Number of connection attempts that failed.",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connections_closed_total",
			Help: "Number of connections that reached the Finished state.",
		}),
		leasesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "leases_active",
			Help: "Number of connections currently leased out.",
		}),
		keepAlivesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "keepalives_succeeded_total",
			Help: "Number of keep-alive probes that succeeded.",
		}),
		keepAlivesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "keepalives_failed_total",
			Help: "Number of keep-alive probes that failed.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "lease_queue_depth",
			Help: "Number of lease requests currently waiting for a connection.",
		}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connection_utilization",
			Help: "In-flight requests per connection, labeled by connection id.",
		}, []string{"connection_id"}),
	}

	reg.MustRegister(
		s.connectsStarted, s.connectsSucceeded, s.connectsFailed, s.connectionsClosed,
		s.leasesActive, s.keepAlivesOK, s.keepAlivesFailed, s.queueDepth, s.utilization,
	)
	return s
}

func (s *PrometheusSink) StartedConnecting(id string) { s.connectsStarted.Inc() }
func (s *PrometheusSink) ConnectSucceeded(id string)  { s.connectsSucceeded.Inc() }
func (s *PrometheusSink) ConnectFailed(id string, cause error) {
	s.connectsFailed.Inc()
}
func (s *PrometheusSink) ConnectionLeased(id string)  { s.leasesActive.Inc() }
func (s *PrometheusSink) ConnectionReleased(id string) { s.leasesActive.Dec() }
func (s *PrometheusSink) ConnectionClosing(id string)  {}
func (s *PrometheusSink) ConnectionClosed(id string, cause error) {
	s.connectionsClosed.Inc()
	s.utilization.DeleteLabelValues(id)
}
func (s *PrometheusSink) KeepAliveTriggered(id string) {}
func (s *PrometheusSink) KeepAliveSucceeded(id string) { s.keepAlivesOK.Inc() }
func (s *PrometheusSink) KeepAliveFailed(id string, cause error) {
	s.keepAlivesFailed.Inc()
}
func (s *PrometheusSink) RequestQueueDepthChanged(n int) { s.queueDepth.Set(float64(n)) }
func (s *PrometheusSink) ConnectionUtilizationChanged(id string, inFlight, capacity int) {
	s.utilization.WithLabelValues(id).Set(float64(inFlight))
}

var _ Sink = (*PrometheusSink)(nil)
