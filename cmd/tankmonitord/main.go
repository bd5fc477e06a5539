package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reef-pi/rpi/i2c"
	"github.com/robfig/cron/v3"

	"github.com/rweeks/tankmonitor/controller"
	"github.com/rweeks/tankmonitor/controller/auth"
	"github.com/rweeks/tankmonitor/controller/config"
	"github.com/rweeks/tankmonitor/controller/drivers/rpigpio"
	"github.com/rweeks/tankmonitor/controller/logging"
	"github.com/rweeks/tankmonitor/controller/modules/alert"
	"github.com/rweeks/tankmonitor/controller/modules/display"
	"github.com/rweeks/tankmonitor/controller/modules/health"
	"github.com/rweeks/tankmonitor/controller/modules/sensor"
	"github.com/rweeks/tankmonitor/controller/modules/timeseries"
	"github.com/rweeks/tankmonitor/controller/modules/valve"
	"github.com/rweeks/tankmonitor/controller/notifier"
	"github.com/rweeks/tankmonitor/controller/storage"
	"github.com/rweeks/tankmonitor/controller/telemetry"
)

type unit struct {
	name string
	sub  controller.Subsystem
	// partial subsystems report setup errors but still run what they can
	// (the sensor manager keeps its healthy links going).
	partial bool
}

func main() {
	configPath := flag.String("config", "tankmonitor.yml", "path to the YAML configuration file")
	devMode := flag.Bool("dev", false, "run without GPIO/serial hardware")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Configuration faults are the only fatal startup errors.
		log.Fatalf("tankmonitord: %v", err)
	}
	if *devMode {
		cfg.GPIO.DevMode = true
	}

	store, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("tankmonitord: open database: %v", err)
	}
	defer store.Close()

	tele, err := telemetry.New(cfg.Telemetry, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("tankmonitord: %v", err)
	}
	defer tele.Close()

	c := controller.New(store, tele)
	window := logging.NewWindow()
	authn := auth.New(cfg.Credentials)

	gpio, err := rpigpio.New(cfg.GPIO.Pins, cfg.GPIO.DevMode)
	if err != nil {
		log.Fatalf("tankmonitord: %v", err)
	}
	defer gpio.Close()

	units := make(map[controller.Category]string, len(cfg.Units))
	for cat, u := range cfg.Units {
		units[controller.Category(cat)] = u
	}

	// Notifier
	var transport notifier.Transport = &notifier.LogTransport{}
	if cfg.Email.Enable {
		transport = &notifier.SMTPTransport{
			Server:       cfg.Email.Server,
			Port:         cfg.Email.Port,
			TLS:          cfg.Email.TLS,
			From:         cfg.Email.From,
			Password:     cfg.Email.Password,
			Distribution: cfg.Email.Distribution,
		}
	}
	notif := notifier.New(c, notifier.Config{
		Period:      time.Duration(cfg.Email.PeriodSeconds) * time.Second,
		SummaryRule: cfg.Email.SummaryRule,
	}, transport)

	// Time series + alerting
	tsStore := timeseries.NewStore(cfg.Retention.MaxRecords)
	tsSub := timeseries.NewSubsystem(tsStore, cfg.Units)
	notif.Summarize = func() string { return summarize(tsStore, units) }

	rateThresholds := make(map[controller.Category]float64, len(cfg.Alerts.RateThresholds))
	for cat, th := range cfg.Alerts.RateThresholds {
		rateThresholds[controller.Category(cat)] = th
	}
	rules := make(map[controller.Category]string, len(cfg.Alerts.Rules))
	for cat, r := range cfg.Alerts.Rules {
		rules[controller.Category(cat)] = r
	}
	engine := alert.New(c, alert.Config{
		LevelThreshold: cfg.Alerts.LevelThreshold,
		RateThresholds: rateThresholds,
		Rules:          rules,
		DebugWindow:    time.Duration(cfg.Alerts.DebugWindowSeconds) * time.Second,
	}, notif, units, window)

	// Sensor links
	cal := make(sensor.Calibrator, len(cfg.Calibration))
	for cat, k := range cfg.Calibration {
		cal[controller.Category(cat)] = sensor.Coefficients{Scale: k.Scale, Offset: k.Offset}
	}
	manager := sensor.NewManager(c, cal, window)
	var depthLink func() string
	for _, sc := range cfg.Sensors {
		cat := controller.Category(sc.Category)
		timeout := time.Duration(sc.TimeoutSeconds) * time.Second
		poll := time.Duration(sc.PollSeconds) * time.Second
		switch sc.Device {
		case "maxbotix":
			manager.AddLink(sensor.NewMaxbotix(sc.Name, cat, sc.Port, sc.Baud, timeout), poll)
		case "density":
			manager.AddLink(sensor.NewDensity(sc.Name, cat, sc.Port, sc.Baud, timeout), poll)
		case "tempprobe":
			bus, err := i2c.New()
			if err != nil {
				log.Printf("tankmonitord: %v", &controller.SetupError{Subsystem: sc.Name, Err: err})
				continue
			}
			manager.AddLink(sensor.NewTempProbe(sc.Name, cat, bus, sc.Address), poll)
		}
	}
	manager.AddSink(tsStore.Append)
	manager.AddSink(engine.Offer)
	depthLink = func() string {
		for _, st := range manager.Status() {
			if st.Category == string(controller.Depth) {
				return st.LatestRaw
			}
		}
		return ""
	}

	subsystems := []unit{
		{name: "notifier", sub: notif},
		{name: "timeseries", sub: tsSub},
		{name: "alert", sub: engine},
		{name: "sensor", sub: manager, partial: true},
	}
	if cfg.GPIO.ValvePin != "" {
		pin, err := gpio.OutputPin(cfg.GPIO.ValvePin)
		if err != nil {
			log.Printf("tankmonitord: %v", &controller.SetupError{Subsystem: "valve", Err: err})
		} else {
			subsystems = append(subsystems, unit{name: "valve", sub: valve.New(c, pin, authn)})
		}
	}
	if cfg.GPIO.ButtonPin != "" {
		pin, err := gpio.InputPin(cfg.GPIO.ButtonPin)
		if err != nil {
			log.Printf("tankmonitord: %v", &controller.SetupError{Subsystem: "display", Err: err})
		} else {
			wake := time.Duration(cfg.DisplayWakeSeconds) * time.Second
			subsystems = append(subsystems, unit{name: "display", sub: display.New(c, pin, wake, depthLink)})
		}
	}
	hlth := health.New(c)
	subsystems = append(subsystems, unit{name: "health", sub: hlth})

	// Setup: a failed subsystem is reported once and left out of service;
	// everything else keeps running.
	var live []unit
	for _, u := range subsystems {
		if err := u.sub.Setup(); err != nil {
			serr := &controller.SetupError{Subsystem: u.name, Err: err}
			log.Printf("tankmonitord: %v", serr)
			if !u.partial {
				continue
			}
		}
		live = append(live, u)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/login", authn.HandleLogin).Methods("POST")
	r.Handle("/metrics", promhttp.Handler())
	for _, u := range live {
		u.sub.LoadAPI(r)
		u.sub.Start()
	}

	// Maintenance jobs
	cr := cron.New()
	cr.AddFunc("@every 1m", func() {
		window.Tick(time.Now())
		hlth.Sample()
	})
	if cfg.Retention.HorizonSeconds > 0 {
		horizon := float64(cfg.Retention.HorizonSeconds)
		cr.AddFunc("@every 10m", func() {
			tsStore.EvictOlderThan(float64(time.Now().Unix()) - horizon)
		})
	}
	cr.Start()

	srv := &http.Server{Addr: cfg.Listen, Handler: r}
	go func() {
		log.Printf("tankmonitord: listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("tankmonitord: http server: %v", err)
		}
	}()
	daemon.SdNotify(false, daemon.SdNotifyReady)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("tankmonitord: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	<-cr.Stop().Done()
	for i := len(live) - 1; i >= 0; i-- {
		live[i].sub.Stop()
	}
}

// summarize builds the scheduled status report from the latest reading of
// every category.
func summarize(ts *timeseries.Store, units map[controller.Category]string) string {
	body := "Current tank readings:\n"
	for _, cat := range ts.Categories() {
		if r, ok := ts.Latest(cat); ok {
			body += fmt.Sprintf("  %s: %.2f %s (as of %s)\n",
				cat, r.Value, units[cat],
				time.Unix(int64(r.Timestamp), 0).Format("2006-01-02 15:04:05"))
		}
	}
	return body
}
