// Package metrics exports pooled session counters to Prometheus.
package metrics

import (
	"github.com/gluk-w/claworc/shellbridge/internal/sshpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "shellbridge"

// SnapshotSource yields the current state of every session.
// *sshpool.Pool implements it.
type SnapshotSource interface {
	Snapshot() []sshpool.SessionInfo
}

// SessionCollector reads a fresh pool snapshot on every scrape, so the
// exported values always match what the sessions report.
type SessionCollector struct {
	source SnapshotSource

	connected        *prometheus.Desc
	requests         *prometheus.Desc
	requestSeconds   *prometheus.Desc
	bytesWritten     *prometheus.Desc
	bytesRead        *prometheus.Desc
	waitCycles       *prometheus.Desc
	waitSeconds      *prometheus.Desc
	errors           *prometheus.Desc
	hardTimeouts     *prometheus.Desc
	incomplete       *prometheus.Desc
	disconnects      *prometheus.Desc
	connectedSeconds *prometheus.Desc
	healthChecks     *prometheus.Desc
	connects         *prometheus.Desc
	idleCloses       *prometheus.Desc
}

var _ prometheus.Collector = (*SessionCollector)(nil)

// NewSessionCollector creates a collector over source.
func NewSessionCollector(source SnapshotSource) *SessionCollector {
	labels := []string{"session", "label", "addr"}
	desc := func(name, help string, extra ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "session", name), help, append(labels, extra...), nil)
	}
	return &SessionCollector{
		source:           source,
		connected:        desc("connected", "1 when the session is connected."),
		requests:         desc("requests_total", "Commands issued."),
		requestSeconds:   desc("request_seconds_total", "Time spent in commands."),
		bytesWritten:     desc("bytes_written_total", "Bytes written to the remote shell."),
		bytesRead:        desc("bytes_read_total", "Bytes read from the remote shell."),
		waitCycles:       desc("wait_cycles_total", "Polling sleeps while waiting for output."),
		waitSeconds:      desc("wait_cycle_seconds_total", "Nominal time spent in polling sleeps."),
		errors:           desc("errors_total", "I/O errors during commands."),
		hardTimeouts:     desc("hard_timeouts_total", "Waits that ended in a timeout error."),
		incomplete:       desc("incomplete_responses_total", "Responses that ended without the prompt."),
		disconnects:      desc("disconnects_total", "Transitions from connected to disconnected."),
		connectedSeconds: desc("connected_seconds", "Time since the session connected; 0 when disconnected."),
		healthChecks:     desc("health_checks_total", "Health checks by result.", "result"),
		connects:         desc("connects_total", "Successful connections made by the pool."),
		idleCloses:       desc("idle_closes_total", "Sessions closed for being idle."),
	}
}

// Describe implements prometheus.Collector.
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.connected, c.requests, c.requestSeconds, c.bytesWritten, c.bytesRead,
		c.waitCycles, c.waitSeconds, c.errors, c.hardTimeouts, c.incomplete,
		c.disconnects, c.connectedSeconds, c.healthChecks, c.connects, c.idleCloses,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	for _, info := range c.source.Snapshot() {
		lv := []string{info.Name, info.Label, info.Addr}
		st := info.Stats

		connected := 0.0
		connectedFor := 0.0
		if info.State == "connected" {
			connected = 1
			connectedFor = st.ConnectedFor.Seconds()
		}

		gauge := func(d *prometheus.Desc, v float64, extra ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append(lv, extra...)...)
		}
		counter := func(d *prometheus.Desc, v float64, extra ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, append(lv, extra...)...)
		}

		gauge(c.connected, connected)
		gauge(c.connectedSeconds, connectedFor)
		counter(c.requests, float64(st.Requests))
		counter(c.requestSeconds, st.RequestTime.Seconds())
		counter(c.bytesWritten, float64(st.BytesWritten))
		counter(c.bytesRead, float64(st.BytesRead))
		counter(c.waitCycles, float64(st.WaitCycles))
		counter(c.waitSeconds, st.WaitCycleTime.Seconds())
		counter(c.errors, float64(st.Errors))
		counter(c.hardTimeouts, float64(st.HardTimeouts))
		counter(c.incomplete, float64(st.IncompleteResponses))
		counter(c.disconnects, float64(st.Disconnects))
		counter(c.healthChecks, float64(info.Health.SuccessfulChecks), "success")
		counter(c.healthChecks, float64(info.Health.FailedChecks), "failure")
		counter(c.connects, float64(info.Health.Connects))
		counter(c.idleCloses, float64(info.Health.IdleCloses))
	}
}

// NewRegistry returns a registry holding the session collector plus the
// standard Go and process collectors.
func NewRegistry(source SnapshotSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewSessionCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
