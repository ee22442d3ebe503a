package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/cyton.report/internal/api"
	"github.com/banshee-data/cyton.report/internal/config"
	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/db"
	"github.com/banshee-data/cyton.report/internal/monitoring"
	"github.com/banshee-data/cyton.report/internal/serialmux"
	"github.com/banshee-data/cyton.report/internal/timeutil"
	"github.com/banshee-data/cyton.report/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to a JSON device config file")
	port       = flag.String("port", config.DefaultPort, "Serial port to use (ignored in dev mode)")
	baud       = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	timeout    = flag.Duration("timeout", serialmux.DefaultReadTimeout, "Serial read timeout")
	dbPath     = flag.String("db", config.DefaultDBPath, "SQLite database path (empty disables storage)")
	listen     = flag.String("listen", config.DefaultListen, "HTTP listen address (empty disables the server)")
	noSetup    = flag.Bool("no-setup", false, "Skip the setup handshake")
	queueCap   = flag.Int("queue-capacity", 0, "Bound the reading queue, dropping the newest readings when full (0 is unbounded)")
	devMode    = flag.Bool("dev", false, "Simulate a board instead of opening a serial port")
	fixture    = flag.String("fixture", "", "Raw byte stream replayed in dev mode (default: synthetic sine waves)")
	jsonl      = flag.Bool("jsonl", false, "Write readings to stdout as JSON lines")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
	listPorts  = flag.Bool("list-ports", false, "List serial ports and exit")
)

// settings is the effective configuration after the config file and any
// explicitly set flags are merged.
type settings struct {
	Port          string
	PortOptions   serialmux.PortOptions
	Setup         bool
	SetupConfig   cyton.SetupConfig
	QueueCapacity int
	DBPath        string
	Listen        string
	Dev           bool
	Fixture       string
	JSONL         bool
}

// resolveSettings starts from cfg and applies the flags named in set.
func resolveSettings(cfg *config.DeviceConfig, set map[string]bool) (settings, error) {
	s := settings{
		Port:          cfg.GetPort(),
		PortOptions:   cfg.GetPortOptions(),
		Setup:         cfg.GetSetupEnabled(),
		SetupConfig:   cfg.GetSetupConfig(),
		QueueCapacity: cfg.GetQueueCapacity(),
		DBPath:        cfg.GetDBPath(),
		Listen:        cfg.GetListen(),
		Dev:           *devMode,
		Fixture:       *fixture,
		JSONL:         *jsonl,
	}
	if set["port"] {
		s.Port = *port
	}
	if set["baud"] {
		s.PortOptions.BaudRate = *baud
	}
	if set["timeout"] {
		if *timeout < time.Millisecond {
			return s, fmt.Errorf("read timeout must be at least 1ms, got %s", *timeout)
		}
		s.PortOptions.ReadTimeoutMs = int(*timeout / time.Millisecond)
	}
	if set["db"] {
		s.DBPath = *dbPath
	}
	if set["listen"] {
		s.Listen = *listen
	}
	if set["no-setup"] {
		s.Setup = !*noSetup
	}
	if set["queue-capacity"] {
		s.QueueCapacity = *queueCap
	}

	opts, err := s.PortOptions.Normalise()
	if err != nil {
		return s, err
	}
	s.PortOptions = opts
	if s.QueueCapacity < 0 {
		return s, fmt.Errorf("queue capacity must be non-negative, got %d", s.QueueCapacity)
	}
	if !s.Dev && s.Port == "" {
		return s, errors.New("serial port is required")
	}
	return s, nil
}

// openPort returns a simulated board in dev mode, else the hardware port.
func openPort(s settings, factory serialmux.SerialPortFactory) (serialmux.SerialPorter, error) {
	if !s.Dev {
		return factory.Open(s.Port, s.PortOptions)
	}
	stream := cyton.SyntheticStream(10 * cyton.SampleRate)
	if s.Fixture != "" {
		data, err := os.ReadFile(s.Fixture)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture: %w", err)
		}
		stream = data
	}
	log.Printf("dev mode: simulating a board with %d bytes of fixture data", len(stream))
	return serialmux.NewMockDevicePort(serialmux.MockDeviceConfig{
		Fixture:     stream,
		ReadTimeout: s.PortOptions.ReadTimeout(),
		Setup:       s.SetupConfig,
	}), nil
}

// writeJSONLines writes each reading as one JSON object per line.
func writeJSONLines(w io.Writer, in <-chan cyton.Reading) error {
	enc := json.NewEncoder(w)
	for r := range in {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// run drives one acquisition session until ctx is done or the device fails.
// It takes ownership of port.
func run(ctx context.Context, s settings, port serialmux.SerialPorter, stdout io.Writer) error {
	device := cyton.NewDevice(port, cyton.Options{QueueCapacity: s.QueueCapacity})
	if s.Setup {
		if err := device.Setup(ctx, s.SetupConfig); err != nil {
			port.Close()
			return fmt.Errorf("device setup failed: %w", err)
		}
		log.Printf("device configured for 16 channels")
	}

	var store *db.DB
	var session db.Session
	if s.DBPath != "" {
		var err error
		store, err = db.NewDB(s.DBPath)
		if err != nil {
			port.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()

		session, err = store.StartSession(s.Port, s.SetupConfig.Firmware, time.Now())
		if err != nil {
			port.Close()
			return err
		}
		log.Printf("recording session %s to %s", session.ID, s.DBPath)
		defer func() {
			if err := store.EndSession(session.ID, time.Now()); err != nil {
				log.Printf("failed to end session: %v", err)
			}
		}()
	}

	// Only the device watches ctx. Everything downstream runs until the
	// reading channel closes so decoded readings are not lost on shutdown.
	deviceCtx, stopDevice := context.WithCancel(ctx)
	defer stopDevice()
	drainCtx := context.WithoutCancel(ctx)
	serverCtx, stopServer := context.WithCancel(drainCtx)
	defer stopServer()

	readings, err := device.Start(deviceCtx)
	if err != nil {
		port.Close()
		return err
	}
	log.Printf("acquisition started on %s (%s)", s.Port, s.PortOptions)

	clock := timeutil.RealClock{}
	readingMux := serialmux.NewReadingMux(clock, device)

	var wg sync.WaitGroup

	if store != nil {
		id, c := readingMux.Subscribe()
		recorder := db.NewRecorder(store, session.ID, clock)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer readingMux.Unsubscribe(id)
			if err := recorder.Run(drainCtx, c); err != nil {
				log.Printf("recorder stopped: %v", err)
			}
			log.Printf("recorder routine terminated after %d readings", recorder.Recorded())
		}()
	}

	if s.JSONL {
		id, c := readingMux.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer readingMux.Unsubscribe(id)
			if err := writeJSONLines(stdout, c); err != nil {
				log.Printf("jsonl writer stopped: %v", err)
			}
		}()
	}

	if s.Listen != "" {
		mux := http.NewServeMux()
		if store != nil {
			apiServer := api.NewServer(store, readingMux, session.ID)
			apiServer.SetChannelGains(s.SetupConfig.Gains())
			mux.Handle("/api/", apiServer.ServeMux())
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("database admin routes unavailable: %v", err)
			}
		}
		readingMux.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    s.Listen,
			Handler: api.LoggingMiddleware(mux),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("failed to start server: %v", err)
					stopDevice()
				}
			}()
			log.Printf("serving HTTP on %s", s.Listen)

			<-serverCtx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}
			log.Printf("HTTP server routine stopped")
		}()
	}

	// The mux returns once the device has stopped and its queue is drained.
	if err := readingMux.Run(drainCtx, readings); err != nil {
		log.Printf("reading mux stopped: %v", err)
	}
	stopServer()
	wg.Wait()

	err = device.Wait()
	st := device.Stats()
	log.Printf("acquisition stopped: %d readings, %d discarded packets, %d dropped readings",
		st.Readings, st.DiscardedPackets, st.DroppedReadings)
	return err
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.Get())
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	monitoring.SetVerbose(*verbose)
	if *jsonl {
		// stdout carries the data stream.
		log.SetOutput(os.Stderr)
	}

	cfg := config.DefaultDeviceConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadDeviceConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	s, err := resolveSettings(cfg, set)
	if err != nil {
		log.Fatalf("invalid settings: %v", err)
	}

	p, err := openPort(s, serialmux.NewRealSerialPortFactory())
	if err != nil {
		log.Fatalf("failed to open serial port: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, p, os.Stdout); err != nil {
		log.Fatalf("acquisition failed: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
