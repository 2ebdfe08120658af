package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/cryptomaster/internal/api"
	"github.com/banshee-data/cryptomaster/internal/approach"
	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/config"
	"github.com/banshee-data/cryptomaster/internal/db"
	"github.com/banshee-data/cryptomaster/internal/feed"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/hardware"
	"github.com/banshee-data/cryptomaster/internal/jobs"
	"github.com/banshee-data/cryptomaster/internal/mapping"
	"github.com/banshee-data/cryptomaster/internal/mission"
	"github.com/banshee-data/cryptomaster/internal/monitor"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
	"github.com/banshee-data/cryptomaster/internal/nav"
	"github.com/banshee-data/cryptomaster/internal/serialmux"
	"github.com/banshee-data/cryptomaster/internal/timeutil"
	"github.com/banshee-data/cryptomaster/internal/version"
)

var (
	configPath   = flag.String("config", "", "Mission config JSON (defaults built in when empty)")
	dbPath       = flag.String("db", "mission.db", "SQLite mission database path (empty disables persistence)")
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	serialSpec   = flag.String("serial", "", "Serial bridge port, e.g. /dev/ttyUSB0 or /dev/ttyUSB0:115200:8N1")
	udpAddr      = flag.String("udp", "", "UDP address for observation datagrams, e.g. :2370")
	pcapPath     = flag.String("pcap", "", "Replay observation datagrams from a capture file")
	pcapPort     = flag.Int("pcap-port", 0, "Only replay datagrams sent to this UDP port (0 for all)")
	pcapRealtime = flag.Bool("pcap-realtime", true, "Pace the capture replay at recorded speed")
	viewpoints   = flag.String("viewpoints", "", "Map file (YAML or JSON) delivered at startup")
	navURL       = flag.String("nav-url", "", "Navigation bridge base URL")
	simMode      = flag.Bool("sim", false, "Simulate navigation, the serial bridge and the arm")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

var logf = monitoring.Component("main")

// options are the parsed command line settings.
type options struct {
	ConfigPath   string
	DBPath       string
	Listen       string
	Serial       string
	UDP          string
	PCAP         string
	PCAPPort     int
	PCAPRealtime bool
	Viewpoints   string
	NavURL       string
	Sim          bool

	// Ready, when set, is called with the bound HTTP address.
	Ready func(net.Addr)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		ConfigPath:   *configPath,
		DBPath:       *dbPath,
		Listen:       *listen,
		Serial:       *serialSpec,
		UDP:          *udpAddr,
		PCAP:         *pcapPath,
		PCAPPort:     *pcapPort,
		PCAPRealtime: *pcapRealtime,
		Viewpoints:   *viewpoints,
		NavURL:       *navURL,
		Sim:          *simMode,
	})
	if err != nil {
		log.Fatalf("cryptomaster: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.MissionConfig, error) {
	if path == "" {
		return config.DefaultMissionConfig(), nil
	}
	cfg, err := config.LoadMissionConfig(path)
	if err != nil {
		return nil, err
	}
	logf("loaded mission config from %s", path)
	return cfg, nil
}

func openSerial(opts options) (serialmux.SerialMuxInterface, error) {
	if opts.Sim {
		mux, _ := serialmux.NewSimulatedSerialMux()
		return mux, nil
	}
	if opts.Serial == "" {
		logf("no -serial given: arm, speech and drive commands will fail")
		return serialmux.NewDisabledSerialMux(), nil
	}
	return serialmux.OpenBridge(opts.Serial)
}

// collaborators builds the navigator and the physical collaborators.
func collaborators(opts options, cfg *config.MissionConfig, serial serialmux.SerialMuxInterface) (nav.Navigator, mission.Manipulator, mission.Announcer, mission.Sweeper, error) {
	clock := timeutil.RealClock{}
	if opts.Sim {
		navigator := nav.NewSimNavigator(geom.Pt(cfg.GetStartX(), cfg.GetStartY()))
		return navigator, &hardware.SimManipulator{}, hardware.LogAnnouncer{Clock: clock}, hardware.SimDrive{Clock: clock}, nil
	}
	if opts.NavURL == "" {
		return nil, nil, nil, nil, errors.New("-nav-url is required unless -sim is set")
	}
	bridge := hardware.NewBridge(serial, 0)
	return nav.NewHTTPNavigator(opts.NavURL, nil),
		hardware.NewSerialManipulator(bridge),
		hardware.NewSerialAnnouncer(bridge, clock),
		hardware.NewSerialDrive(bridge),
		nil
}

func run(ctx context.Context, opts options) error {
	logf("%s", version.String())
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid mission config: %w", err)
	}

	counters := monitoring.Default

	var store *db.DB
	if opts.DBPath != "" {
		store, err = db.NewDB(opts.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
	}

	serial, err := openSerial(opts)
	if err != nil {
		return fmt.Errorf("failed to open serial bridge: %w", err)
	}
	defer serial.Close()
	if err := serial.Initialize(); err != nil {
		return fmt.Errorf("failed to initialise serial bridge: %w", err)
	}

	engine := cluster.NewEngine(cluster.EngineConfigFromMission(cfg))
	engine.SetCounters(counters)
	queue := jobs.NewQueue()

	protocol := approach.NewProtocol(approach.ConfigFromMission(cfg))
	protocol.SetCounters(counters)

	navigator, manipulator, announcer, sweeper, err := collaborators(opts, cfg, serial)
	if err != nil {
		return err
	}

	deps := mission.Deps{
		Engine:      engine,
		Queue:       queue,
		Navigator:   navigator,
		Approach:    protocol,
		Manipulator: manipulator,
		Announcer:   announcer,
		Sweeper:     sweeper,
		Counters:    counters,
	}
	if store != nil {
		engine.SetRecorder(store)
		deps.Recorder = store
	}
	coord, err := mission.NewCoordinator(mission.SettingsFromMission(cfg), deps)
	if err != nil {
		return err
	}

	if opts.Viewpoints != "" {
		vps, err := mapping.Load(opts.Viewpoints)
		if err != nil {
			return err
		}
		if err := coord.MapReady(vps); err != nil {
			return err
		}
	}

	observations := feed.New(engine)
	observations.SetCounters(counters)

	mux := api.NewServer(api.Config{
		Mission:  coord,
		Engine:   engine,
		Queue:    queue,
		Feed:     observations,
		DB:       store,
		Serial:   serial,
		Counters: counters,
		Settings: cfg,
	}).ServeMux()
	serial.AttachAdminRoutes(mux)
	if store != nil {
		if err := store.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}
	monitor.NewHandler(func() monitor.Snapshot {
		st := coord.Status()
		return monitor.Snapshot{
			Clusters:   engine.Clusters(),
			Viewpoints: coord.Viewpoints(),
			GoalsLeft:  st.GoalsLeft,
			Robot:      st.Robot.Position,
		}
	}, cfg.GetTopK()).AttachRoutes(mux)

	listener, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.Listen, err)
	}
	logf("serving HTTP on %s", listener.Addr())
	if opts.Ready != nil {
		opts.Ready(listener.Addr())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := serial.Monitor(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("serial monitor: %w", err)
		}
		logf("monitor routine terminated")
		return nil
	})
	g.Go(func() error {
		if err := observations.PumpSerial(ctx, serial); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if opts.UDP != "" {
		udp := feed.NewUDPListener(observations, feed.UDPListenerConfig{Address: opts.UDP})
		g.Go(func() error {
			if err := udp.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("udp feed: %w", err)
			}
			return nil
		})
	}
	if opts.PCAP != "" {
		g.Go(func() error {
			stats, err := observations.ReplayPCAPFile(ctx, opts.PCAP, feed.ReplayOptions{
				Port:     opts.PCAPPort,
				Realtime: opts.PCAPRealtime,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("pcap replay: %w", err)
			}
			logf("pcap replay finished: %d packets, %d datagrams, %d malformed lines",
				stats.Packets, stats.Datagrams, stats.Malformed)
			return nil
		})
	}
	g.Go(func() error {
		if err := coord.Run(ctx); err != nil {
			return fmt.Errorf("mission: %w", err)
		}
		if coord.Done() {
			logf("mission complete, shutting down")
			cancel()
		}
		return nil
	})
	g.Go(func() error {
		return api.Serve(ctx, listener, api.LoggingMiddleware(mux))
	})

	return g.Wait()
}
