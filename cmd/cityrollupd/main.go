// Command cityrollupd is the orchestrator process entrypoint: it loads
// configuration, wires up the city state store and worker coordination
// primitives, and exposes the Prometheus metrics a deployment scrapes.
//
// Concrete proof-backend and L1-client implementations are supplied by a
// deployment (internal/proofsystem and internal/l1api are black-box
// interfaces, per their own package doc comments) — this binary wires
// everything up to the point where those two get plugged in.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cityrollup/rollup/internal/citylog"
	"github.com/cityrollup/rollup/internal/citystate"
	"github.com/cityrollup/rollup/internal/config"
	"github.com/cityrollup/rollup/internal/kvstore"
	"github.com/cityrollup/rollup/internal/worker"
)

func main() {
	var env string

	root := &cobra.Command{
		Use:   "cityrollupd",
		Short: "CityRollup block-production orchestrator",
	}
	root.PersistentFlags().StringVar(&env, "env", "", "environment overlay merged on top of the default config")

	root.AddCommand(serveCmd(&env))
	root.AddCommand(genesisCmd(&env))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "load configuration, bring up the city state store and metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			lg := citylog.New(cfg.Logging.Level)
			log := citylog.ForComponent(lg, "cityrollupd")

			_, _, err = buildCityStore(cfg)
			if err != nil {
				return fmt.Errorf("build city store: %w", err)
			}

			reg := prometheus.NewRegistry()
			worker.NewMetrics(reg)
			log.Info("city state store and worker metrics registered")

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

			addr := ":9090"
			log.WithField("addr", addr).Info("serving metrics")
			return http.ListenAndServe(addr, mux)
		},
	}
}

func genesisCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "genesis",
		Short: "print the genesis city root and block deposit address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			city, _, err := buildCityStore(cfg)
			if err != nil {
				return fmt.Errorf("build city store: %w", err)
			}

			root, err := city.GetCityRoot(0)
			if err != nil {
				return fmt.Errorf("genesis city root: %w", err)
			}
			addr, err := city.GetCityBlockDepositAddress(0)
			if err != nil {
				return fmt.Errorf("genesis deposit address: %w", err)
			}
			fmt.Printf("city root:       %x\n", root.BytesLE())
			fmt.Printf("deposit address: %x\n", addr)
			return nil
		},
	}
}

// buildCityStore opens a fresh in-memory historized store sized per cfg's
// tree heights. A production deployment swaps kvstore.New's in-memory table
// for the WAL/snapshot-backed store at cfg.Store.WALPath — that persistence
// layer is the one component this binary does not yet wire, since
// internal/kvstore's current Store is memory-only (see DESIGN.md).
func buildCityStore(cfg *config.Config) (*citystate.Store, *kvstore.Store, error) {
	store := kvstore.New(1024)
	city := citystate.New(store, cfg.Tree.UserTreeHeight, cfg.Tree.DepositTreeHeight, cfg.Tree.WithdrawalTreeHeight)
	return city, store, nil
}
