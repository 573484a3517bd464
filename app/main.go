package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"pinglog/app/internal/config"
	"pinglog/app/internal/database"
	"pinglog/app/internal/probe"
	"pinglog/app/internal/prober"
	"pinglog/app/internal/stats"
)

func main() {
	app := newApp(config.Load())
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp(cfg *config.Config) *cli.App {
	return &cli.App{
		Name:  "pinglog",
		Usage: "log ping latency to tracked hosts over long periods",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Value: cfg.DBPath,
				Usage: "path to the sqlite database",
			},
		}, runFlags(cfg)...),
		// Running with no command starts the probing loop.
		Action: func(c *cli.Context) error { return runLoop(c, cfg) },
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "track one or more IP addresses or CIDR prefixes",
				ArgsUsage: "<address|prefix>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "label", Usage: "label stored with each added address"},
				},
				Action: func(c *cli.Context) error { return addTargets(c, cfg) },
			},
			{
				Name:   "reset",
				Usage:  "stop tracking all addresses (ping history is kept)",
				Action: resetTargets,
			},
			{
				Name:   "show",
				Usage:  "list tracked addresses",
				Action: showTargets,
			},
			{
				Name:  "stats",
				Usage: "summarize ping history",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "write CSV to this path instead of printing"},
					&cli.StringFlag{Name: "address", Usage: "restrict the summary to one address"},
				},
				Action: showStats,
			},
			{
				Name:   "run",
				Usage:  "start the probing loop (default)",
				Flags:  runFlags(cfg),
				Action: func(c *cli.Context) error { return runLoop(c, cfg) },
			},
		},
	}
}

func runFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "randomize", Usage: "shuffle target order each cycle"},
		&cli.IntFlag{Name: "parallel", Value: cfg.Parallel, Usage: "max concurrent probes per batch"},
		&cli.DurationFlag{Name: "round-wait", Value: cfg.RoundWait, Usage: "desired minimum time between probes of the same target"},
		&cli.DurationFlag{Name: "batch-wait", Value: cfg.BatchWait, Usage: "pause between batches"},
		&cli.DurationFlag{Name: "timeout", Value: cfg.ProbeTimeout, Usage: "per-probe timeout"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
	}
}

func openStore(c *cli.Context) (*database.Store, error) {
	store, err := database.Open(c.String("db"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("open store: %v", err), 1)
	}
	return store, nil
}

func addTargets(c *cli.Context, cfg *config.Config) error {
	if c.NArg() == 0 {
		return cli.Exit("add: at least one address required", 1)
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	label := c.String("label")
	added := 0
	for _, arg := range c.Args().Slice() {
		addrs := []string{arg}
		if strings.Contains(arg, "/") {
			addrs, err = database.ExpandPrefix(arg, cfg.MaxExpand)
			if err != nil {
				logrus.Warnf("skipping %s: %v", arg, err)
				continue
			}
		}
		for _, addr := range addrs {
			if err := store.AddTarget(addr, label); err != nil {
				if errors.Is(err, database.ErrInvalidAddress) {
					logrus.Warnf("skipping %s: %v", addr, err)
					continue
				}
				return cli.Exit(fmt.Sprintf("add: %v", err), 1)
			}
			added++
		}
	}
	fmt.Printf("tracking %d new or updated address(es)\n", added)
	return nil
}

func resetTargets(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RemoveAllTargets(); err != nil {
		return cli.Exit(fmt.Sprintf("reset: %v", err), 1)
	}
	fmt.Println("tracked addresses cleared, ping history kept")
	return nil
}

func showTargets(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	targets, err := store.ListTargets()
	if err != nil {
		return cli.Exit(fmt.Sprintf("show: %v", err), 1)
	}
	if len(targets) == 0 {
		fmt.Println("no tracked addresses")
		return nil
	}
	for _, t := range targets {
		if t.Label != "" {
			fmt.Printf("%s\t%s\n", t.Address, t.Label)
		} else {
			fmt.Println(t.Address)
		}
	}
	return nil
}

func showStats(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := stats.Summarize(store, c.String("address"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("stats: %v", err), 1)
	}
	if out := c.String("output"); out != "" {
		if err := stats.ExportCSV(out, rows); err != nil {
			return cli.Exit(fmt.Sprintf("stats: %v", err), 1)
		}
		fmt.Printf("wrote %d row(s) to %s\n", len(rows), out)
		return nil
	}
	stats.WriteText(os.Stdout, rows)
	return nil
}

func runLoop(c *cli.Context, cfg *config.Config) error {
	if c.Bool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	p := prober.New(prober.Config{
		Parallel:  c.Int("parallel"),
		RoundWait: c.Duration("round-wait"),
		BatchWait: c.Duration("batch-wait"),
		Timeout:   c.Duration("timeout"),
		Randomize: c.Bool("randomize"),
		Verbose:   c.Bool("verbose"),
	}, store, probe.NewICMP())

	targets, err := store.ListTargets()
	if err != nil {
		return cli.Exit(fmt.Sprintf("run: %v", err), 1)
	}
	cycle, feasible := p.Feasible(len(targets))
	logrus.WithFields(logrus.Fields{
		"targets":    len(targets),
		"parallel":   c.Int("parallel"),
		"cycle_time": cycle,
	}).Info("starting probing loop")
	if !feasible {
		logrus.Warnf("configured pacing cannot keep up: a full cycle takes ~%s, more than round-wait %s",
			cycle, c.Duration("round-wait"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := p.Run(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("run: %v", err), 1)
	}
	logrus.Infof("interrupted after %s, shutting down", time.Since(start).Round(time.Second))
	return nil
}
