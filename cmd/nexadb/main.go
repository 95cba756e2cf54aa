package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/oarkflow/nexadb/config"
	"github.com/oarkflow/nexadb/document"
	"github.com/oarkflow/nexadb/lsm"
	"github.com/oarkflow/nexadb/server"
)

func main() {
	app := &cli.Command{
		Name:    "nexadb",
		Usage:   "NexaDB server",
		Version: "0.1.0",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "directory for the WAL and SSTable segments",
				Value:   "./nexadb-data",
			},
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "TCP listen address",
				Value:   config.DefaultListenAddr,
			},
			&cli.IntFlag{
				Name:  "worker-pool-size",
				Usage: "maximum number of connections served concurrently",
				Value: config.DefaultWorkerPoolSize,
			},
			&cli.Int64Flag{
				Name:  "memtable-threshold-bytes",
				Usage: "active memtable size that triggers a flush",
				Value: config.DefaultMemtableThreshold,
			},
			&cli.IntFlag{
				Name:  "compaction-trigger",
				Usage: "number of segments that triggers compaction",
				Value: config.DefaultCompactionTrigger,
			},
		},

		Action: runServe,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "nexadb: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg := config.Default(cmd.String("data-dir"))
	cfg.ListenAddr = cmd.String("listen")
	cfg.WorkerPoolSize = int(cmd.Int("worker-pool-size"))
	cfg.MemtableThreshold = cmd.Int64("memtable-threshold-bytes")
	cfg.CompactionTrigger = int(cmd.Int("compaction-trigger"))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	engine, err := lsm.Open(lsm.Options{
		Dir:                cfg.DataDir,
		MemtableThreshold:  cfg.MemtableThreshold,
		CompactionTrigger:  cfg.CompactionTrigger,
		WALMaxBatchRecords: cfg.WALMaxBatchRecords,
		WALMaxBatchDelay:   cfg.WALMaxBatchDelay,
	})
	if err != nil {
		return fmt.Errorf("open storage engine: %w", err)
	}
	defer engine.Close()

	docs := document.NewStore(engine)
	srv := server.New(docs, server.Options{
		Addr:             cfg.ListenAddr,
		WorkerPoolSize:   cfg.WorkerPoolSize,
		MaxInFlightBytes: cfg.MaxInFlightBytes,
	})

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	fmt.Printf("nexadb listening on %s (data dir %s)\n", srv.Addr(), cfg.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("nexadb shutting down")
	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}
	return nil
}
