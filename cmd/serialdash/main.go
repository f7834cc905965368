package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/serialdash/internal/conn"
	"github.com/shaunagostinho/serialdash/internal/device"
	"github.com/shaunagostinho/serialdash/internal/export"
	"github.com/shaunagostinho/serialdash/internal/metrics"
	"github.com/shaunagostinho/serialdash/internal/publish"
	"github.com/shaunagostinho/serialdash/internal/server"
	"github.com/shaunagostinho/serialdash/internal/stream"
	"github.com/shaunagostinho/serialdash/web"
)

func main() {
	configPath := flag.String("config", "serialdash.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Offer a simulated device and connect to it")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] serialdash starting")

	cfg := server.LoadConfig(*configPath)
	if *demo {
		cfg.Serial.Demo = true
		cfg.Serial.Port = device.DemoPort
		cfg.Serial.AutoConnect = true
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
	}
	settings, err := cfg.Settings()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	serialCfg, exportCfg, mqttCfg := cfg.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	m := metrics.New()
	store := stream.NewStore(settings.Time, settings.MaxCols)
	pipe := stream.NewPipeline(settings.Delimiter, store, &stream.Monitor{}, m)

	mgr := conn.NewManager(device.Open, device.SerialEnumerator{IncludeDemo: serialCfg.Demo}, pipe, m, conn.Options{
		AcquireDelay:     settings.AcquireDelay,
		DiscoveryDelay:   settings.DiscoveryDelay,
		Settle:           time.Duration(serialCfg.SettleMs) * time.Millisecond,
		HandshakeTimeout: time.Duration(serialCfg.HandshakeTimeoutMs) * time.Millisecond,
	})

	deps := server.Deps{
		Manager:  mgr,
		Pipeline: pipe,
		Window:   stream.NewWindow(settings.Rollover),
		Recorder: export.NewRecorder(export.RecorderConfig{
			Enabled: exportCfg.Record,
			Dir:     exportCfg.Dir,
			Prefix:  exportCfg.FilePrefix,
			Delim:   settings.Delimiter.Rune(),
		}),
		Metrics: m,
	}

	// MQTT is optional; the dashboard runs without a broker.
	if mqttCfg.Enabled {
		pub, err := publish.NewMQTT(publish.Config{
			Broker:       mqttCfg.Broker,
			Topic:        mqttCfg.Topic,
			CommandTopic: mqttCfg.CommandTopic,
			ClientID:     mqttCfg.ClientID,
			QoS:          byte(mqttCfg.QoS),
		}, func(payload []byte) {
			if _, err := mgr.Send(payload); err != nil {
				log.Printf("[mqtt] command dropped: %v", err)
			}
		})
		if err != nil {
			log.Printf("[main] mqtt disabled: %v", err)
		} else {
			deps.Publisher = pub
		}
	}

	srv, err := server.New(cfg, deps, web.FS)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}
