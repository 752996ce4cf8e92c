// Command serialrouter hosts the routing engine as a standalone process:
// "run" starts it and blocks on OS signals; "status" queries a running
// instance's HTTP control surface.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidewater/serialrouter/pkg/api"
	"github.com/tidewater/serialrouter/pkg/config"
	"github.com/tidewater/serialrouter/pkg/engine"
	"github.com/tidewater/serialrouter/pkg/events"
	"github.com/tidewater/serialrouter/pkg/log"
	"github.com/tidewater/serialrouter/pkg/metrics"
	"github.com/tidewater/serialrouter/pkg/portmanager"
)

var (
	configPath string
	httpAddr   string
	grpcAddr   string
	jsonLogs   bool
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "serialrouter",
	Short: "Serial port routing engine for offshore unattended deployments",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the routing engine and block until terminated",
	RunE:  runRouter,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running instance's HTTP status endpoint",
	RunE:  queryStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/serialrouter/config.json", "path to the JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "http-addr", "127.0.0.1:8088", "HTTP control surface address")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc-addr", "127.0.0.1:8089", "grpc_health_v1 listen address")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs instead of console format")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "rotate logs into this file instead of stdout")

	statusCmd.Flags().StringVar(&outputFormat, "format", "json", "output format: json or yaml")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	log.Init(log.Config{
		Level:        log.InfoLevel,
		JSONOutput:   jsonLogs,
		LogFile:      logFile,
		MaxSizeBytes: 10 * 1024 * 1024,
		MaxBackups:   1,
	})
}

func runRouter(cmd *cobra.Command, args []string) error {
	cfg, warnings := config.Load(configPath)
	for _, w := range warnings {
		log.Warn(w)
	}
	if cfg.IncomingPort == "" {
		return fmt.Errorf("incoming_port not configured")
	}

	// Re-init logging now that the configured level is known; the
	// OnInitialize pass only had the command-line flags.
	log.Init(log.Config{
		Level:        log.Level(cfg.LogLevel),
		JSONOutput:   jsonLogs,
		LogFile:      logFile,
		MaxSizeBytes: 10 * 1024 * 1024,
		MaxBackups:   1,
	})

	mgr := portmanager.New(portmanager.DefaultOpener(time.Duration(cfg.TimeoutMS) * time.Millisecond))
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	// Mirror the operational event stream into the log sink; this is the
	// process's activity log when no GUI is attached.
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	go func() {
		evLog := log.WithComponent("events")
		for ev := range sub {
			evLog.Info().
				Str("event_id", ev.ID).
				Str("type", string(ev.Type)).
				Interface("metadata", ev.Metadata).
				Msg(ev.Message)
		}
	}()

	eng := engine.New(engine.Config{
		IncomingPort:  portmanager.PortID(cfg.IncomingPort),
		OutgoingPorts: [2]portmanager.PortID{config.OutgoingPortA, config.OutgoingPortB},
		BaudRate:      cfg.BaudRate,
		TimeoutMS:     cfg.TimeoutMS,
	}, mgr, bus)

	if err := eng.Start(cmd.Context()); err != nil {
		log.ErrorErr("engine start failed", err)
		return err
	}
	log.Info("engine started")

	collector := metrics.NewCollector(eng)
	collector.Start()
	defer collector.Stop()

	httpSrv := api.NewServer(eng)
	go func() {
		if err := httpSrv.Start(httpAddr); err != nil {
			log.ErrorErr("http server stopped", err)
		}
	}()

	go func() {
		if err := api.ServeGRPCHealth(grpcAddr, eng); err != nil {
			log.ErrorErr("grpc health server stopped", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")
	eng.Stop()
	return nil
}

var outputFormat string

func queryStatus(cmd *cobra.Command, args []string) error {
	return printRemoteStatus(httpAddr, outputFormat, os.Stdout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
