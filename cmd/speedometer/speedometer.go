package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/speedometer/internal/accel"
	"github.com/banshee-data/speedometer/internal/api"
	"github.com/banshee-data/speedometer/internal/config"
	"github.com/banshee-data/speedometer/internal/monitoring"
	"github.com/banshee-data/speedometer/internal/serialmux"
	"github.com/banshee-data/speedometer/internal/timeutil"
	"github.com/banshee-data/speedometer/internal/velocity"
	"github.com/banshee-data/speedometer/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode (replay fixture lines through a mock serial port)")
	listen      = flag.String("listen", config.DefaultListen, "Listen address")
	port        = flag.String("port", config.DefaultSerialPort, "Serial port of the IMU bridge (ignored in dev mode)")
	fixtures    = flag.String("fixtures", "fixtures.txt", "Fixture file replayed in dev mode")
	sourceName  = flag.String("source", sourceSerial, "Acceleration source: serial or mock")
	configFile  = flag.String("config", "", "Path to JSON configuration file")
	scale       = flag.Float64("scale", config.DefaultScaleFactor, "Scale factor applied to the integrated velocity")
	interval    = flag.Duration("interval", config.DefaultUpdateInterval, "Sampling loop update interval")
	maxErrors   = flag.Int("max-errors", 0, "Consecutive sensor failures tolerated before the sampling loop stops")
	debug       = flag.Bool("debug", false, "Log every published estimate")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

const (
	sourceSerial = "serial"
	sourceMock   = "mock"
)

// replayed in dev mode when the fixture file is missing: a device at rest
const defaultFixtureLine = "0.02,-0.01,0.98"

// loadConfig reads the config file, or returns an empty config when no path
// is given.
func loadConfig(path string) (*config.SpeedometerConfig, error) {
	if path == "" {
		return &config.SpeedometerConfig{}, nil
	}
	return config.Load(path)
}

// explicitFlags returns the names of the flags set on the command line.
func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyFlagOverrides copies explicitly set flags over the config values.
func applyFlagOverrides(cfg *config.SpeedometerConfig, set map[string]bool) error {
	if set["scale"] {
		v := *scale
		cfg.ScaleFactor = &v
	}
	if set["interval"] {
		v := interval.String()
		cfg.UpdateInterval = &v
	}
	if set["max-errors"] {
		v := *maxErrors
		cfg.MaxConsecutiveErrors = &v
	}
	if set["listen"] {
		v := *listen
		cfg.Listen = &v
	}
	if set["port"] {
		v := *port
		cfg.SerialPort = &v
	}
	return cfg.Validate()
}

// loadFixtures returns the non-empty lines of path, falling back to a single
// at-rest reading when the file cannot be read.
func loadFixtures(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("failed to open fixtures file, replaying %q: %v", defaultFixtureLine, err)
		return []string{defaultFixtureLine}
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return []string{defaultFixtureLine}
	}
	return lines
}

// newSerialMux picks the serial backend for the run mode.
func newSerialMux(cfg *config.SpeedometerConfig, dev bool, source string) (serialmux.SerialMuxInterface, error) {
	switch {
	case dev:
		return serialmux.NewMockSerialMux(loadFixtures(*fixtures), cfg.GetUpdateInterval()), nil
	case source == sourceMock:
		return serialmux.NewDisabledSerialMux(), nil
	default:
		m, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), cfg.GetSerial())
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// newSource builds the acceleration source. The returned SerialSource is nil
// unless readings come from the serial mux.
func newSource(name string, mux serialmux.SerialMuxInterface, clock timeutil.Clock) (accel.Source, *accel.SerialSource, error) {
	switch name {
	case sourceSerial:
		s := accel.NewSerialSource(mux)
		return s, s, nil
	case sourceMock:
		return accel.NewMockSource(clock), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q (want %s or %s)", name, sourceSerial, sourceMock)
	}
}

func newEstimator(src accel.Source, cfg *config.SpeedometerConfig, clock timeutil.Clock) *velocity.Estimator {
	return velocity.NewEstimator(src, velocity.NewStore(),
		velocity.WithClock(clock),
		velocity.WithScaleFactor(cfg.GetScaleFactor()),
		velocity.WithUpdateInterval(cfg.GetUpdateInterval()),
		velocity.WithMaxConsecutiveErrors(cfg.GetMaxConsecutiveErrors()),
	)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := applyFlagOverrides(cfg, explicitFlags(flag.CommandLine)); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	if cfg.GetListen() == "" {
		log.Fatal("Listen address is required")
	}

	imuSerial, err := newSerialMux(cfg, *devMode, *sourceName)
	if err != nil {
		log.Fatalf("failed to open IMU serial port: %v", err)
	}
	defer imuSerial.Close()

	if err := imuSerial.Initialise(cfg.InitCommands...); err != nil {
		log.Fatalf("failed to initialise device: %v", err)
	}
	log.Printf("initialised device %s", imuSerial)

	clock := timeutil.RealClock{}
	src, serialSrc, err := newSource(*sourceName, imuSerial, clock)
	if err != nil {
		log.Fatalf("failed to create acceleration source: %v", err)
	}
	estimator := newEstimator(src, cfg, clock)

	// Create a wait group for the HTTP server, serial monitor, source and estimator routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := imuSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if serialSrc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serialSrc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial source stopped: %v", err)
			}
			log.Print("source routine terminated")
		}()
	}

	// the HTTP server keeps serving the last estimate if the loop stops;
	// /api/status reports it as not running
	estimator.Start(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-estimator.Done()
		if err := estimator.Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sampling loop stopped: %v", err)
		}
		log.Print("sampling loop terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(estimator)
		mux := apiServer.ServeMux()
		apiServer.AttachAdminRoutes(mux)
		imuSerial.AttachAdminRoutes(mux)
		if serialSrc != nil {
			tsweb.Debugger(mux).KVFunc("Serial lines (parsed/malformed)", func() any {
				received, malformed := serialSrc.Stats()
				return fmt.Sprintf("%d/%d", received, malformed)
			})
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("serving speed on http://%s/speed", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
