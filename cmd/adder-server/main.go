// Command adder-server hosts AdditionService and ComputingService.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"duplex-rpc/adder"
	"duplex-rpc/config"
	"duplex-rpc/logging"
	"duplex-rpc/middleware"
	"duplex-rpc/server"
)

func main() {
	app := cli.NewApp()
	app.Name = "adder-server"
	app.Usage = "Serve the streaming addition service"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "c,config",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:  "a,addr",
			Usage: "Listen address, overrides the configuration",
		},
		cli.BoolFlag{
			Name:  "compress",
			Usage: "Snappy-compress data frames",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
	}
	app.Action = func(c *cli.Context) error {
		cfg, err := serverConfig(c)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.HiRedString(err.Error()))
		os.Exit(1)
	}
}

func serverConfig(c *cli.Context) (config.ServerConfig, error) {
	cfg, err := config.LoadServer(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Address = addr
	}
	if c.Bool("compress") {
		cfg.Compress = true
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	svr, err := newServer(cfg, log)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- svr.Serve(cfg.Network, cfg.Address) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout.Std()))
	if err := svr.Shutdown(cfg.ShutdownTimeout.Std()); err != nil {
		return err
	}
	return <-serveErr
}

// newServer builds the server with its middleware chain and both services.
func newServer(cfg config.ServerConfig, log *zap.Logger) (*server.Server, error) {
	svr := server.NewServer(
		server.WithLogger(log),
		server.WithCompression(cfg.Compress),
		server.WithHeartbeat(cfg.Heartbeat.Std()),
	)
	svr.Use(middleware.Recover(log))
	svr.Use(middleware.Logging(log))
	if cfg.RateLimit.PerSecond > 0 {
		svr.Use(middleware.RateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst))
	}
	if d := cfg.HandlerTimeout.Std(); d > 0 {
		svr.Use(middleware.Timeout(d))
	}
	if err := adder.Register(svr); err != nil {
		return nil, err
	}
	return svr, nil
}
