package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nenrikson/spvnode/internal/blockstore"
	"github.com/nenrikson/spvnode/internal/config"
	"github.com/nenrikson/spvnode/internal/controller"
	"github.com/nenrikson/spvnode/internal/peerpool"
	"github.com/nenrikson/spvnode/internal/utxo"
	"github.com/nenrikson/spvnode/internal/wallet"
)

const (
	dialTimeout          = 10 * time.Second
	dnsTimeout           = 5 * time.Second
	headerRefreshPeriod  = 60 * time.Second
	defaultConfigPath    = "spvnode.conf"
	defaultLogFileName   = "spvnode.log"
	defaultHeadersDBName = "headers.dat"
	defaultBlocksDBName  = "blocks.dat"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "spvnode:", err)
		os.Exit(1)
	}
}

func run() error {
	confPath := defaultConfigPath
	if len(os.Args) > 1 {
		confPath = os.Args[1]
	}
	dataDir := filepath.Dir(confPath)
	if dataDir == "" {
		dataDir = "."
	}

	loggers, closeLog, err := initLogging(filepath.Join(dataDir, defaultLogFileName))
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()

	cfg, err := config.Load(confPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loggers.ctrl.Infof("loaded config: seed=%s port=%d start=%d", cfg.Seed, cfg.Port, cfg.StartTimestamp)

	headerStore, err := blockstore.OpenHeaderStore(filepath.Join(dataDir, defaultHeadersDBName))
	if err != nil {
		return fmt.Errorf("open header store: %w", err)
	}
	defer headerStore.Close()
	loggers.store.Infof("opened header store %s", defaultHeadersDBName)

	blockStore, err := blockstore.OpenBlockStore(filepath.Join(dataDir, defaultBlocksDBName))
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	defer blockStore.Close()
	loggers.store.Infof("opened block store %s", defaultBlocksDBName)

	w, err := wallet.New(true)
	if err != nil {
		return fmt.Errorf("generate wallet: %w", err)
	}
	loggers.wallet.Infof("wallet address %s", w.Address())

	utxoSet := utxo.NewSet()

	pool := peerpool.New(true, loggers.pool)

	ctx, cancel := context.WithTimeout(context.Background(), dnsTimeout)
	addrs, err := peerpool.ResolveSeed(ctx, cfg.Seed, loggers.pool)
	cancel()
	if err != nil {
		return fmt.Errorf("resolve seed %s: %w", cfg.Seed, err)
	}
	if err := pool.ConnectAll(addrs, int(cfg.Port), dialTimeout); err != nil {
		return fmt.Errorf("connect to peers: %w", err)
	}
	loggers.pool.Infof("connected to %d peer(s)", pool.Len())

	statusCh := make(chan string, 16)
	go func() {
		for msg := range statusCh {
			loggers.ctrl.Infof("status: %s", msg)
		}
	}()

	ctrl := controller.New(pool, utxoSet, w, headerStore, blockStore, cfg.StartTimestamp, true, loggers.ctrl, statusCh)
	if err := ctrl.StartSync(); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	done := make(chan struct{})
	go ctrl.RunDispatcher(done)
	go ctrl.RunPeriodicRefresh(headerRefreshPeriod, done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	loggers.ctrl.Infof("shutting down")
	close(done)
	pool.Close()
	close(statusCh)
	return nil
}
