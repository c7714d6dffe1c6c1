// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

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

	"github.com/mattn/go-isatty"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/stakewise/v3-core-sub003/api"
	"github.com/stakewise/v3-core-sub003/eventdb"
	"github.com/stakewise/v3-core-sub003/keeper"
	"github.com/stakewise/v3-core-sub003/log"
	"github.com/stakewise/v3-core-sub003/lvldb"
	"github.com/stakewise/v3-core-sub003/metrics"
	"github.com/stakewise/v3-core-sub003/store"
	"github.com/stakewise/v3-core-sub003/vault"
)

var (
	version   string
	gitCommit string

	logger = log.WithContext("pkg", "vaultd")
)

func fullVersion() string {
	if gitCommit == "" {
		return version + "-dev"
	}
	return fmt.Sprintf("%s-%.8s", version, gitCommit)
}

func main() {
	app := cli.App{
		Version: fullVersion(),
		Name:    "vaultd",
		Usage:   "pooled staking vault ledger daemon",
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			apiAddrFlag,
			apiCorsFlag,
			verbosityFlag,
			jsonLogsFlag,
			enableMetricsFlag,
			enableReqLoggerFlag,
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogger(ctx *cli.Context) {
	json := ctx.Bool(jsonLogsFlag.Name) || !isatty.IsTerminal(os.Stderr.Fd())
	log.SetOutput(os.Stderr, json)
	log.SetLevel(log.VerbosityToLevel(ctx.Int(verbosityFlag.Name)))
}

func run(ctx *cli.Context) error {
	initLogger(ctx)

	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(apiAddrFlag.Name) {
		cfg.APIAddr = ctx.String(apiAddrFlag.Name)
	}
	if ctx.IsSet(apiCorsFlag.Name) {
		cfg.APICors = ctx.String(apiCorsFlag.Name)
	}
	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}

	db, err := lvldb.New(filepath.Join(cfg.DataDir, "ledger.db"), lvldb.Options{})
	if err != nil {
		return err
	}
	defer db.Close()
	journal := store.New(db)

	events, err := eventdb.New(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		return err
	}
	defer events.Close()

	k, vaults, err := assemble(cfg, journal, events)
	if err != nil {
		return err
	}

	handler := api.New(k, vaults, events, api.Options{
		AllowedOrigins:  cfg.APICors,
		EnableReqLogger: ctx.Bool(enableReqLoggerFlag.Name),
		EnableMetrics:   ctx.Bool(enableMetricsFlag.Name),
	})
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server started", "addr", cfg.APIAddr)
		errChan <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// assemble reloads persisted state and wires the keeper and vaults.
func assemble(cfg *config, journal *store.Store, events *eventdb.EventDB) (*keeper.Keeper, []*vault.Vault, error) {
	keeperCfg, err := cfg.Keeper.parse()
	if err != nil {
		return nil, nil, err
	}
	snap, err := journal.LoadKeeperSnapshot()
	if err != nil {
		return nil, nil, err
	}
	if snap != nil {
		logger.Info("keeper state reloaded", "nonce", snap.Current.Nonce, "records", len(snap.Records))
	}
	k, err := keeper.New(keeperCfg, nil, journal, snap)
	if err != nil {
		return nil, nil, err
	}

	vaults := make([]*vault.Vault, 0, len(cfg.Vaults))
	for _, entry := range cfg.Vaults {
		vaultCfg, err := entry.parse()
		if err != nil {
			return nil, nil, err
		}
		vaultSnap, err := journal.LoadVaultSnapshot(vaultCfg.ID)
		if err != nil {
			return nil, nil, err
		}
		var v *vault.Vault
		if vaultSnap != nil {
			logger.Info("vault state reloaded", "id", vaultCfg.ID, "tickets", len(vaultSnap.Tickets))
			v, err = vault.Restore(vaultCfg, k, nil, journal, events, vaultSnap)
		} else {
			v, err = vault.New(vaultCfg, k, nil, journal, events)
		}
		if err != nil {
			return nil, nil, err
		}
		k.AddVault(vaultCfg.ID)
		vaults = append(vaults, v)
	}
	return k, vaults, nil
}
