package tunnel

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bowline",
		Subsystem: "tunnel",
		Name:      "launches_total",
		Help:      "Browser launch attempts by outcome.",
	}, []string{"outcome"})
	metricProxied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bowline",
		Subsystem: "tunnel",
		Name:      "proxied_requests_total",
		Help:      "WebDriver requests relayed to the local browser.",
	})
	metricRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bowline",
		Subsystem: "tunnel",
		Name:      "rejected_requests_total",
		Help:      "Proxy requests dropped by the caller guard or upstream failures.",
	})
	metricActiveBrowser = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bowline",
		Subsystem: "tunnel",
		Name:      "browser_active",
		Help:      "Whether a local browser session is currently live.",
	})
)

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
