// Command adder-client streams "x y" pairs to the addition service and prints
// every output as it arrives.
//
//	echo "1 2
//	-5 5" | adder-client --addr 127.0.0.1:9000
//
// With --float each pair is sent to ComputingService/AddFloat as a unary call.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"duplex-rpc/client"
	"duplex-rpc/config"
	"duplex-rpc/logging"
)

func main() {
	app := cli.NewApp()
	app.Name = "adder-client"
	app.Usage = "Add pairs of numbers on an adder-server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "c,config",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:  "a,addr",
			Usage: "Server address, overrides the configuration",
		},
		cli.StringSliceFlag{
			Name:  "p,pair",
			Usage: `Operands as "x y"; repeatable. Stdin is read when absent`,
		},
		cli.BoolFlag{
			Name:  "float",
			Usage: "Use the unary float addition",
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
		cfg, err := clientConfig(c)
		if err != nil {
			return err
		}
		log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout.Std())
		defer cancel()
		cl, err := client.Dial(dialCtx, cfg.Network, cfg.Address,
			client.WithLogger(log),
			client.WithCompression(cfg.Compress),
			client.WithHeartbeat(cfg.Heartbeat.Std()),
		)
		if err != nil {
			return err
		}
		defer cl.Close()

		var in io.Reader = os.Stdin
		if pairs := c.StringSlice("pair"); len(pairs) > 0 {
			in = strings.NewReader(strings.Join(pairs, "\n"))
		}
		out := newPrinter(os.Stdout, os.Stderr)
		if c.Bool("float") {
			return addFloats(ctx, cl, in, out)
		}
		return addStream(ctx, cl, in, out)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.HiRedString(err.Error()))
		os.Exit(1)
	}
}

func clientConfig(c *cli.Context) (config.ClientConfig, error) {
	cfg, err := config.LoadClient(c.String("config"))
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
