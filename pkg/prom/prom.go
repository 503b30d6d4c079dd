package prom

import (
	"fmt"
	"sync"

	xhttp "github.com/nimasrn/deposit-gateway/pkg/http"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemDeposit  = "deposit"
	SystemVerifier = "verifier"
	SystemNotifier = "notifier"
)

const (
	MetricDepositRequests       = "requests_total"
	MetricDepositDuration       = "duration_seconds"
	MetricDepositSettledAmount  = "settled_amount_total"
	MetricVerifierDuration      = "request_duration_seconds"
	MetricNotificationsHandled  = "notifications_total"
	MetricNotificationQueueSize = "queue_length"
)

const (
	TypeCounter      = "counter"
	TypeCounterVec   = "counterVec"
	TypeHistogramVec = "histogramVec"
	TypeGaugeVec     = "gaugeVec"
)

var (
	lock      = &sync.Mutex{}
	namespace = "none"
	registry  = prometheus.NewRegistry()

	defaultLabels prometheus.Labels
)

var MetricSystemEnabled = false

var (
	counters      = make(map[string]prometheus.Counter)
	counterVecs   = make(map[string]*prometheus.CounterVec)
	gaugeVecs     = make(map[string]*prometheus.GaugeVec)
	histogramVecs = make(map[string]*prometheus.HistogramVec)
)

// Create registers the service metrics under nameSpace with the env and
// instance constant labels. Until Create succeeds every Add/Inc call is a
// no-op, which keeps tests free of global registration.
func Create(host string, env string, nameSpace string) error {
	lock.Lock()
	defaultLabels = prometheus.Labels{"env": env, "instance": host}
	namespace = nameSpace
	lock.Unlock()

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(registry.Register(collectors.NewGoCollector()))
	hasError(registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})))

	hasError(CreateMetric(TypeCounterVec, SystemDeposit, MetricDepositRequests, "code"))
	hasError(CreateMetric(TypeHistogramVec, SystemDeposit, MetricDepositDuration, "code"))
	hasError(CreateMetric(TypeCounter, SystemDeposit, MetricDepositSettledAmount))
	hasError(CreateMetric(TypeHistogramVec, SystemVerifier, MetricVerifierDuration, "outcome"))
	hasError(CreateMetric(TypeCounterVec, SystemNotifier, MetricNotificationsHandled, "result"))
	hasError(CreateMetric(TypeGaugeVec, SystemNotifier, MetricNotificationQueueSize, "state"))

	if err == nil {
		MetricSystemEnabled = true
	}
	return err
}

func CreateMetric(metricType, subsystem, name string, labels ...string) error {
	lock.Lock()
	defer lock.Unlock()

	key := subsystem + name
	switch metricType {
	case TypeCounter:
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, ConstLabels: defaultLabels,
		})
		counters[key] = c
		return registry.Register(c)
	case TypeCounterVec:
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, ConstLabels: defaultLabels,
		}, labels)
		counterVecs[key] = c
		return registry.Register(c)
	case TypeHistogramVec:
		h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, ConstLabels: defaultLabels,
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, labels)
		histogramVecs[key] = h
		return registry.Register(h)
	case TypeGaugeVec:
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, ConstLabels: defaultLabels,
		}, labels)
		gaugeVecs[key] = g
		return registry.Register(g)
	}
	return fmt.Errorf("metric type %s is not defined", metricType)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() xhttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// ListenAndServer blocks serving the metrics endpoint on addr.
func ListenAndServer(addr string, url string) {
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Router = xhttp.CreateDefaultRouter()
	s.GET(url, Handler())
	logger.Info("[metrics-server] listening...", "addr", addr, "url", url)
	if err := s.ListenAndServe(addr); err != nil {
		logger.Error("[metrics-server] http listen error", "error", err)
	}
}

func AddCounter(subsystem, name string, number float64) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := counters[subsystem+name]; ok {
		v.Add(number)
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := counterVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Inc()
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func SetGaugeVec(subsystem, name string, value float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := gaugeVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(value)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := histogramVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func ObserveDeposit(code string, seconds float64) {
	IncCounterVec(SystemDeposit, MetricDepositRequests, code)
	AddHistogramVec(SystemDeposit, MetricDepositDuration, seconds, code)
}

func AddSettledAmount(amount float64) {
	AddCounter(SystemDeposit, MetricDepositSettledAmount, amount)
}

func ObserveVerifier(outcome string, seconds float64) {
	AddHistogramVec(SystemVerifier, MetricVerifierDuration, seconds, outcome)
}

func IncNotification(result string) {
	IncCounterVec(SystemNotifier, MetricNotificationsHandled, result)
}

func SetNotificationQueue(state string, n int64) {
	SetGaugeVec(SystemNotifier, MetricNotificationQueueSize, float64(n), state)
}
