// Command sensor is the entry point for the host-resident SYN-flood
// detection sensor: it loads configuration, wires the capture/feature/
// classifier/coordinator stack, and exposes a read-only admin HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"sakin-sensor/internal/alertstore"
	"sakin-sensor/internal/auditlog"
	"sakin-sensor/internal/capture"
	"sakin-sensor/internal/classifier"
	"sakin-sensor/internal/config"
	"sakin-sensor/internal/coordinator"
	"sakin-sensor/internal/enrich"
	"sakin-sensor/internal/events"
	"sakin-sensor/internal/recovery"
)

var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitOK               = 0
	exitMisconfiguration = 2
	exitCaptureUnavail   = 3
	exitModelUnavail     = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file")
	preset := flag.String("preset", "", "configuration preset (light, standard, aggressive)")
	iface := flag.String("interface", "", "interface id to capture on (overrides config)")
	modelPath := flag.String("model", "", "path to classifier artefact (overrides config)")
	versionFlag := flag.Bool("version", false, "print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("sensor %s (commit %s, %s)\n", version, commit, runtime.Version())
		return exitOK
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := loadConfiguration(*configPath, *preset)
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitMisconfiguration
	}
	if *iface != "" {
		cfg.Interface = *iface
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	log.Printf("sensor %s starting (instance=%s)", version, cfg.InstanceID)

	clf, err := loadClassifier(cfg)
	if err != nil {
		log.Printf("classifier unavailable: %v", err)
		return exitModelUnavail
	}

	source := capture.NewPcapSource()

	fanout := events.NewFanout(events.NewLogSink())
	closers := wireSinks(cfg, fanout)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	cooldown := wireCooldown(cfg)
	defer cooldown.Close()

	coCfg := coordinator.Config{
		FilterExpression:     cfg.FilterExpression,
		Promiscuous:          cfg.Promiscuous,
		CaptureReadTimeoutS:  cfg.CaptureReadTimeoutS,
		WindowSeconds:        cfg.WindowSeconds,
		MaxQueueSize:         cfg.MaxQueueSize,
		WorkerCount:          cfg.WorkerCount,
		ProbThreshold:        cfg.ProbThreshold,
		AlertCooldownSeconds: cfg.AlertCooldownSeconds,
		StatisticsIntervalS:  cfg.StatisticsIntervalS,
	}
	co := coordinator.New(coCfg, source, clf, fanout, cooldown)

	if cfg.Interface == "" {
		ifaces, err := co.ListInterfaces()
		if err != nil || len(ifaces) == 0 {
			log.Printf("no capture interfaces available: %v", err)
			return exitCaptureUnavail
		}
		cfg.Interface = ifaces[0].ID
	}

	if err := co.Start(cfg.Interface); err != nil {
		log.Printf("failed to start capture: %v", err)
		return exitCaptureUnavail
	}
	log.Printf("capturing on %s (window=%ds threshold=%.2f)", cfg.Interface, cfg.WindowSeconds, cfg.ProbThreshold)

	var adminApp *fiber.App
	if cfg.Admin.Enabled {
		adminApp = newAdminAPI(co)
		go func() {
			if err := adminApp.Listen(cfg.Admin.Addr); err != nil {
				log.Printf("admin API stopped: %v", err)
			}
		}()
		log.Printf("admin API listening on %s", cfg.Admin.Addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %v, shutting down", sig)

	co.Stop()
	if adminApp != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		adminApp.ShutdownWithContext(shutdownCtx)
	}

	stats := co.GetStatistics()
	log.Printf("final statistics: captured=%d dropped=%d extracted=%d predictions=%d threats=%d errors=%d",
		stats.PacketsCaptured, stats.PacketsDropped, stats.FeaturesExtracted, stats.PredictionsMade, stats.ThreatsDetected, stats.ProcessingErrors)

	return exitOK
}

func loadConfiguration(path, preset string) (*config.Configuration, error) {
	if preset != "" {
		return config.Preset(preset)
	}
	return config.Load(path)
}

func loadClassifier(cfg *config.Configuration) (*classifier.Classifier, error) {
	if cfg.ModelPath == "" {
		log.Printf("no model_path configured, falling back to constant-zero classifier")
		return classifier.Fallback(cfg.ProbThreshold), nil
	}
	loader := classifier.NewModelLoader()
	policy := recovery.New()
	for {
		clf, err := loader.Load(cfg.ModelPath, cfg.ProbThreshold)
		if err == nil {
			policy.ResetOnSuccess(recovery.ModelLoadFailed)
			return clf, nil
		}
		outcome := policy.Attempt(recovery.ModelLoadFailed)
		if outcome.Fatal {
			log.Printf("model load failed (%v), falling back to constant-zero classifier", err)
			return classifier.Fallback(cfg.ProbThreshold), nil
		}
		log.Printf("model load failed (%v): %s", err, outcome.RemediationText)
	}
}

type closer interface{ Close() error }

func wireSinks(cfg *config.Configuration, fanout *events.Fanout) []closer {
	var closers []closer

	var geo *enrich.GeoLookup
	if cfg.GeoIP.Enabled {
		g, err := enrich.OpenGeoLookup(cfg.GeoIP.DBPath)
		if err != nil {
			log.Printf("geoip: disabled, failed to open database: %v", err)
		} else {
			geo = g
			closers = append(closers, geo)
		}
	}

	if cfg.NATS.Enabled {
		sink, err := events.NewNATSSink(events.NATSConfig{
			URL: cfg.NATS.URL, Subject: cfg.NATS.Subject, Stream: cfg.NATS.Stream,
			CertFile: cfg.NATS.CertFile, KeyFile: cfg.NATS.KeyFile, CACertFile: cfg.NATS.CACertFile,
		})
		if err != nil {
			log.Printf("NATS sink disabled: %v", err)
		} else {
			fanout.Add(sink)
			closers = append(closers, sink)
		}
	}

	if cfg.ClickHouse.Enabled {
		sink, err := events.NewClickHouseSink(events.ClickHouseConfig{
			Host: cfg.ClickHouse.Host, Port: cfg.ClickHouse.Port, Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username, Password: cfg.ClickHouse.Password, UseTLS: cfg.ClickHouse.UseTLS,
			CertFile: cfg.ClickHouse.CertFile, KeyFile: cfg.ClickHouse.KeyFile, CACertFile: cfg.ClickHouse.CACertFile,
		})
		if err != nil {
			log.Printf("ClickHouse sink disabled: %v", err)
		} else {
			if geo != nil {
				fanout.Add(&geoEnrichedSink{geo: geo, next: sink})
			} else {
				fanout.Add(sink)
			}
			closers = append(closers, sink)
		}
	}

	if cfg.Postgres.Enabled {
		audit, err := auditlog.Open(auditlog.Config{
			Host: cfg.Postgres.Host, Port: cfg.Postgres.Port, Database: cfg.Postgres.Database,
			Username: cfg.Postgres.Username, Password: cfg.Postgres.Password, SSLMode: cfg.Postgres.SSLMode,
		})
		if err != nil {
			log.Printf("audit log disabled: %v", err)
		} else {
			fanout.Add(&auditSink{instanceID: cfg.InstanceID, log: audit})
			closers = append(closers, audit)
		}
	}

	return closers
}

// auditSink adapts the lifecycle-only auditlog.Log to the events.Sink
// boundary, forwarding only StateChanged events.
type auditSink struct {
	instanceID string
	log        *auditlog.Log
}

func (a *auditSink) Publish(evt events.Event) error {
	if evt.Type != events.KindStateChanged {
		return nil
	}
	return a.log.Append(context.Background(), auditlog.Record{
		Timestamp: evt.Timestamp, InstanceID: a.instanceID,
		From: evt.State.From, To: evt.State.To,
	})
}

// geoEnrichedSink annotates ThreatDetected events with GeoIP metadata
// before forwarding to an archival sink, keeping enrichment at the sink
// boundary rather than in the coordinator's in-core ThreatEvent.
type geoEnrichedSink struct {
	geo  *enrich.GeoLookup
	next events.Sink
}

func (g *geoEnrichedSink) Publish(evt events.Event) error {
	if evt.Type == events.KindThreatDetected && evt.Threat != nil {
		annotated := g.geo.Annotate(*evt.Threat)
		evt.Threat = &annotated
	}
	return g.next.Publish(evt)
}

func wireCooldown(cfg *config.Configuration) alertstore.CooldownStore {
	if !cfg.Redis.Enabled {
		return alertstore.NewMemoryStore()
	}
	store, err := alertstore.NewRedisStore(alertstore.RedisConfig{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
	})
	if err != nil {
		log.Printf("redis cooldown store disabled, falling back to in-memory: %v", err)
		return alertstore.NewMemoryStore()
	}
	return store
}

func newAdminAPI(co *coordinator.Coordinator) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "state": co.State().String()})
	})

	app.Get("/api/v1/stats", func(c *fiber.Ctx) error {
		return c.JSON(co.GetStatistics())
	})

	return app
}
