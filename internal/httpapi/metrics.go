package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics wires the orchestrator gauges into reg. Everything is
// a GaugeFunc reading the same cheap snapshot paths the /health handler
// uses, so scraping never contends with the worker.
func (s *Server) RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sdcpp_queue_pending_jobs",
			Help: "Number of jobs waiting in the pending FIFO.",
		},
		func() float64 { return float64(s.deps.Store.QueueLength()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sdcpp_websocket_subscribers",
			Help: "Number of currently connected WebSocket clients.",
		},
		func() float64 { return float64(s.deps.Bus.SubscriberCount()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sdcpp_model_loaded",
			Help: "Whether a main model is resident on the inference slot.",
		},
		func() float64 {
			if s.deps.Lifecycle.Status().Loaded {
				return 1
			}
			return 0
		},
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sdcpp_model_loading",
			Help: "Whether a model load is in flight.",
		},
		func() float64 {
			if s.deps.Lifecycle.Status().Loading {
				return 1
			}
			return 0
		},
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sdcpp_upscaler_loaded",
			Help: "Whether an upscaler is resident on its slot.",
		},
		func() float64 {
			if s.deps.Lifecycle.UpscalerStatus().Loaded {
				return 1
			}
			return 0
		},
	))
}
