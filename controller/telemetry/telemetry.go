package telemetry

import (
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/reef-pi/adafruitio"
)

const mqttConnectTimeout = 5 * time.Second

// MQTTConfig enables publishing every calibrated reading to an MQTT broker.
type MQTTConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// AdafruitIOConfig enables mirroring readings to Adafruit.IO feeds.
type AdafruitIOConfig struct {
	Enable bool   `yaml:"enable"`
	Token  string `yaml:"token"`
	Prefix string `yaml:"prefix"`
}

type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	AdafruitIO AdafruitIOConfig `yaml:"adafruit_io"`
}

// Telemetry carries the process metrics and optional external sinks. All
// emit methods are safe for concurrent use and never return errors to the
// caller: a down broker must not disturb ingestion.
type Telemetry struct {
	cfg Config

	readings    *prometheus.GaugeVec
	ingested    *prometheus.CounterVec
	frameErrors *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	mailSends   prometheus.Counter
	toggles     prometheus.Counter
	loadAvg     prometheus.Gauge
	memUsedPct  prometheus.Gauge
	uptime      prometheus.Gauge

	mqttClient mqtt.Client
	aioClient  *adafruitio.Client
}

// New registers the monitor's metrics on reg and connects the configured
// external sinks. A sink connection failure is logged and that sink is left
// disabled; metrics registration failure is fatal to the caller.
func New(cfg Config, reg prometheus.Registerer) (*Telemetry, error) {
	t := &Telemetry{
		cfg: cfg,
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tank_reading",
			Help: "Latest calibrated reading per category",
		}, []string{"category"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tank_readings_ingested_total",
			Help: "Readings ingested per category",
		}, []string{"category"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tank_frame_errors_total",
			Help: "Malformed or timed out sensor frames per link",
		}, []string{"link"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tank_alerts_total",
			Help: "Alerts emitted per category",
		}, []string{"category"}),
		mailSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tank_alert_mail_sends_total",
			Help: "Alert e-mails handed to the transport",
		}),
		toggles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tank_valve_toggles_total",
			Help: "Committed valve toggles",
		}),
		loadAvg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tank_host_load1",
			Help: "Host 1-minute load average",
		}),
		memUsedPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tank_host_memory_used_percent",
			Help: "Host memory utilization",
		}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tank_host_uptime_seconds",
			Help: "Host uptime",
		}),
	}
	for _, c := range []prometheus.Collector{
		t.readings, t.ingested, t.frameErrors, t.alerts,
		t.mailSends, t.toggles, t.loadAvg, t.memUsedPct, t.uptime,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("telemetry: register metrics: %w", err)
		}
	}

	if cfg.MQTT.Enable {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTT.Broker).
			SetClientID(cfg.MQTT.ClientID).
			SetAutoReconnect(true)
		client := mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(mqttConnectTimeout) || token.Error() != nil {
			log.Printf("telemetry: mqtt broker %s unavailable: %v", cfg.MQTT.Broker, token.Error())
		} else {
			t.mqttClient = client
		}
	}
	if cfg.AdafruitIO.Enable {
		t.aioClient = adafruitio.NewClient(cfg.AdafruitIO.Token)
	}
	return t, nil
}

// EmitReading publishes one calibrated reading to every configured sink.
func (t *Telemetry) EmitReading(category string, v float64) {
	t.readings.WithLabelValues(category).Set(v)
	t.ingested.WithLabelValues(category).Inc()

	if t.mqttClient != nil {
		topic := t.cfg.MQTT.TopicPrefix + "/" + category
		t.mqttClient.Publish(topic, 0, false, fmt.Sprintf("%f", v))
	}
	if t.aioClient != nil {
		feed := strings.ToLower(t.cfg.AdafruitIO.Prefix + "-" + category)
		if err := t.aioClient.SubmitData(feed, adafruitio.Data{Value: v}); err != nil {
			log.Printf("telemetry: adafruit.io feed %s: %v", feed, err)
		}
	}
}

func (t *Telemetry) IncFrameError(link string) { t.frameErrors.WithLabelValues(link).Inc() }
func (t *Telemetry) IncAlert(category string)  { t.alerts.WithLabelValues(category).Inc() }
func (t *Telemetry) IncMailSend()              { t.mailSends.Inc() }
func (t *Telemetry) IncValveToggle()           { t.toggles.Inc() }

// SetHostHealth records the health module's latest host sample.
func (t *Telemetry) SetHostHealth(load1, memUsedPct float64, uptimeSec uint64) {
	t.loadAvg.Set(load1)
	t.memUsedPct.Set(memUsedPct)
	t.uptime.Set(float64(uptimeSec))
}

func (t *Telemetry) Close() {
	if t.mqttClient != nil {
		t.mqttClient.Disconnect(250)
	}
}
