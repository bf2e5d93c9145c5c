package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

const finikSubsystem = "finik"

var finikGatewayRequests = &Metric{
	ID:          "finikGateway",
	Name:        "gateway_requests_total",
	Description: "Create-payment calls to the Finik gateway, partitioned by response status.",
	Type:        "counter_vec",
	Args:        []string{"status"},
}

var finikWebhookOutcomes = &Metric{
	ID:          "finikWebhook",
	Name:        "webhook_total",
	Description: "Inbound Finik notifications, partitioned by processing outcome.",
	Type:        "counter_vec",
	Args:        []string{"outcome"},
}

// Recorder counts payment business events. A nil Recorder records nothing.
type Recorder struct {
	gateway *prometheus.CounterVec
	webhook *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		gateway: NewMetric(finikGatewayRequests, finikSubsystem).(*prometheus.CounterVec),
		webhook: NewMetric(finikWebhookOutcomes, finikSubsystem).(*prometheus.CounterVec),
	}
	if reg == nil {
		return r, nil
	}
	var err error
	if r.gateway, err = register(reg, r.gateway); err != nil {
		return nil, err
	}
	if r.webhook, err = register(reg, r.webhook); err != nil {
		return nil, err
	}
	return r, nil
}

// register reuses a collector already present in reg, so building a second
// Recorder against the same registry is harmless.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return c, nil
}

// NewDefaultRecorder registers with the default prometheus registry, which is
// the one /metrics serves.
func NewDefaultRecorder() (*Recorder, error) {
	return NewRecorder(prometheus.DefaultRegisterer)
}

func (r *Recorder) GatewayRequest(status string) {
	if r == nil {
		return
	}
	r.gateway.WithLabelValues(status).Inc()
}

func (r *Recorder) WebhookOutcome(outcome string) {
	if r == nil {
		return
	}
	r.webhook.WithLabelValues(outcome).Inc()
}

var Module = fx.Options(
	fx.Provide(NewDefaultRecorder),
)
