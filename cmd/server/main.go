package main

import (
	"flag"
	"log"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gazewatch/backend/internal/camera"
	"github.com/gazewatch/backend/internal/config"
	"github.com/gazewatch/backend/internal/detect"
	"github.com/gazewatch/backend/internal/logging"
	"github.com/gazewatch/backend/internal/metrics"
	"github.com/gazewatch/backend/internal/mock"
	"github.com/gazewatch/backend/internal/monitor"
	"github.com/gazewatch/backend/internal/session"
	"github.com/gazewatch/backend/internal/shutdown"
	"github.com/gazewatch/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use a synthetic camera and detector")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	envPath := flag.String("env", ".env", "Path to dotenv file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(*envPath); err != nil {
		log.Fatalf("Failed to read environment: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	var (
		opener   camera.Opener
		detector detect.Detector
	)
	if *mockMode {
		logger.Info("Starting in mock mode")
		opener = mock.NewCamera()
		detector, err = mock.NewDetector(time.Now().UnixNano())
	} else {
		opener = camera.DefaultOpener()
		detector, err = detect.NewHaar(detect.Options{
			FaceCascade:  cfg.Detector.FaceCascade,
			EyeCascade:   cfg.Detector.EyeCascade,
			ScaleFactor:  cfg.Detector.ScaleFactor,
			MinNeighbors: cfg.Detector.MinNeighbors,
			MinFaceSize:  cfg.Detector.MinFaceSize,
			MinEyeSize:   cfg.Detector.MinEyeSize,
		})
	}
	if err != nil {
		logger.Fatalf("Failed to load detector: %v", err)
	}

	registry := session.NewRegistry(cfg.Server.MaxConnections)
	source := camera.NewSource(opener, cfg.Tracking.CameraIndices, logger.WithField("component", "camera"))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	coord := shutdown.New(logger.WithField("component", "shutdown"))
	stopSignals := coord.NotifySignals(syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	server := ws.NewServer(cfg, registry, coord, source, detector, m, logger.WithField("component", "ws"))

	var sampler monitor.Sampler
	if ps, err := monitor.NewProcessSampler(); err != nil {
		logger.Warnf("Process stats unavailable: %v", err)
	} else {
		sampler = ps
	}
	server.SetHealthHandler(monitor.NewHealth(registry, sampler, coord.Triggered, ws.ProtocolVersion, logger.WithField("component", "health")))

	logger.WithFields(logrus.Fields{
		"addr": cfg.Addr(),
		"env":  cfg.Env,
		"mock": *mockMode,
	}).Info("Starting eye tracking server")

	if err := server.ListenAndServe(); err != nil {
		logger.Fatalf("Server error: %v", err)
	}

	start := time.Now()
	if err := coord.Drain(cfg.Server.ShutdownTimeout); err != nil {
		logger.WithField("open", coord.Active()).Warnf("Shutdown incomplete: %v", err)
	}
	m.ObserveDrain(time.Since(start).Seconds())

	if err := detector.Close(); err != nil {
		logger.Warnf("Closing detector: %v", err)
	}
	logger.WithField("reason", coord.Reason()).Info("Server stopped")
}
