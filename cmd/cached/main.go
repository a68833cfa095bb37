/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "cached"
	app.Usage = "local content-addressed action cache daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "store-dir", Usage: "blob store root directory", Required: true},
		cli.StringFlag{Name: "db-path", Usage: "database file path (default: <store-dir>/acdb.bunt)"},
		cli.BoolFlag{Name: "recreate-db", Usage: "wipe and rebuild the store on startup"},
		cli.Int64Flag{Name: "gc-limit", Value: 20 << 30, Usage: "size limit in bytes, stored in the daemon config (not read by the GC paths)"},
		cli.IntFlag{Name: "low-wm", Value: 80, Usage: "low watermark percent"},
		cli.IntFlag{Name: "high-wm", Value: 90, Usage: "high watermark percent"},
		cli.DurationFlag{Name: "reap-interval", Value: 5 * time.Second, Usage: "liveness sweep interval"},
		cli.DurationFlag{Name: "sweep-interval", Value: 10 * time.Second, Usage: "steady-state eviction check interval"},
		cli.StringFlag{Name: "metrics-addr", Value: ":9009", Usage: "address to serve Prometheus metrics on, empty to disable"},
	}
	app.Action = run
	app.Commands = []cli.Command{inspectCommand}

	if err := app.Run(os.Args); err != nil {
		glog.Fatalf("cached: %v", err)
	}
}

// configFromFlags builds a Config from whichever of the daemon's flags the
// current command declares; commands that only need store-dir/db-path (like
// inspect) simply leave the rest at their zero value.
func configFromFlags(c *cli.Context) Config {
	storeDir := c.String("store-dir")
	dbPath := c.String("db-path")
	if dbPath == "" {
		dbPath = filepath.Join(storeDir, "acdb.bunt")
	}
	return Config{
		StoreDir:      storeDir,
		DBPath:        dbPath,
		RecreateDB:    c.Bool("recreate-db"),
		GCLimitBytes:  c.Int64("gc-limit"),
		LowWatermark:  c.Int("low-wm"),
		HighWatermark: c.Int("high-wm"),
		ReapInterval:  c.Duration("reap-interval"),
		SweepInterval: c.Duration("sweep-interval"),
	}
}

func run(c *cli.Context) error {
	cfg := configFromFlags(c)

	d, err := Open(cfg)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	glog.Infof("cached: store %s, db %s, recreated=%v", cfg.StoreDir, cfg.DBPath, d.Recreated())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.Run(ctx)

	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Errorf("metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	glog.Infof("cached: shutting down")
	return d.Close()
}
