package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberforge/idlecore/internal/content"
	"github.com/emberforge/idlecore/internal/engine"
	"github.com/emberforge/idlecore/internal/infra/storage"
	"github.com/emberforge/idlecore/internal/network"
	"github.com/emberforge/idlecore/internal/platform/config"
	"github.com/emberforge/idlecore/internal/platform/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sim-server",
		Short:        "Incremental-game simulation engine",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newSnapshotsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	var packPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation engine and serve observers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, packPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults apply when omitted)")
	cmd.Flags().StringVarP(&packPath, "pack", "p", "", "path to content pack JSON (overrides config)")
	return cmd
}

func runServe(configPath, packPath string) error {
	log := logger.NewLogger()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if packPath != "" {
		cfg.ContentPack = packPath
	}
	if cfg.ContentPack == "" {
		return fmt.Errorf("no content pack configured (use --pack or content_pack in the config)")
	}

	eng := engine.NewEngine(cfg, log)

	pack, err := content.Load(cfg.ContentPack)
	if err != nil {
		return err
	}
	if err := content.Apply(pack, eng, log); err != nil {
		return err
	}

	store, err := storage.OpenSnapshotStore(cfg.SnapshotPath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if state, err := store.LoadLatest(); err != nil {
		log.Warn("could not load latest snapshot: %v", err)
	} else if state != nil {
		eng.RestoreState(state)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := network.NewHub(log)
	go hub.Run(ctx)
	hub.StartEventPoller(ctx, eng.Bus())

	eng.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/metrics", eng.Metrics().Handler())
	mux.HandleFunc("/metrics/prometheus", eng.Metrics().PrometheusHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Info("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutdown signal received")
	case <-ctx.Done():
	}

	eng.Stop()

	if _, err := store.Save(eng.CaptureState()); err != nil {
		log.Error("failed to save shutdown snapshot: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func newSnapshotsCmd() *cobra.Command {
	var dbPath string
	var keep int

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewLoggerTo(os.Stdout, os.Stderr)
			store, err := storage.OpenSnapshotStore(dbPath, log)
			if err != nil {
				return err
			}
			defer store.Close()

			if keep > 0 {
				pruned, err := store.Prune(keep)
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d snapshot(s)\n", pruned)
			}

			metas, err := store.List()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Println("no snapshots")
				return nil
			}
			for _, m := range metas {
				fmt.Printf("%6d  %s  %d entities\n", m.ID, m.CreatedAt.Format(time.RFC3339), m.EntityCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dbPath, "db", "d", config.Default().SnapshotPath, "snapshot database path")
	cmd.Flags().IntVar(&keep, "prune", 0, "prune all but the newest N snapshots before listing")
	return cmd
}
