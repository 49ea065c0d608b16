package bunker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the engine does. A nil *Metrics is valid and counts nothing.
type Metrics struct {
	commands  *prometheus.CounterVec
	pairings  *prometheus.CounterVec
	responses *prometheus.CounterVec
	malformed prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bunker",
			Name:      "commands_total",
			Help:      "Commands from paired peers by method and outcome.",
		}, []string{"method", "outcome"}),
		pairings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bunker",
			Name:      "pairing_attempts_total",
			Help:      "Commands from unpaired peers by result.",
		}, []string{"result"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bunker",
			Name:      "responses_sent_total",
			Help:      "Responses published, split by success or error.",
		}, []string{"kind"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bunker",
			Name:      "undecodable_commands_total",
			Help:      "Inbound messages that could not be decrypted or parsed.",
		}),
	}

	for _, c := range []prometheus.Collector{m.commands, m.pairings, m.responses, m.malformed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) commandHandled(method Method, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.commands.WithLabelValues(method.String(), outcome).Inc()
}

func (m *Metrics) pairingAttempt(result string) {
	if m == nil {
		return
	}
	m.pairings.WithLabelValues(result).Inc()
}

func (m *Metrics) responseSent(resp Response) {
	if m == nil {
		return
	}
	kind := "result"
	if resp.Error != "" {
		kind = "error"
	}
	m.responses.WithLabelValues(kind).Inc()
}

func (m *Metrics) decodeFailed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}
