// Command negwalletd is the wallet daemon (component C7): it owns the
// Parameter Store, the coin/address store, the local key keeper, the
// transaction builder, and the negotiation driver + Reactor, and exposes
// them over a gRPC surface guarded by a single admin macaroon.
package main

import (
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/go-errors/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/decred/negwallet"
	"github.com/decred/negwallet/build"
	"github.com/decred/negwallet/keykeeper"
	"github.com/decred/negwallet/rpc"
	"github.com/decred/negwallet/txbuilder"
	"github.com/decred/negwallet/txnego"
	"github.com/decred/negwallet/txparam"
	"github.com/decred/negwallet/wallet"
)

func main() {
	if err := run(); err != nil {
		if wrapped, ok := err.(*errors.Error); ok {
			fmt.Fprintln(os.Stderr, wrapped.ErrorStack())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("creating datadir: %w", err)
	}

	rotator := build.NewRotatingLogWriter()
	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	if err := rotator.InitLogRotator(logFile, 0, 0); err != nil {
		return fmt.Errorf("initializing log rotator: %w", err)
	}
	defer rotator.Close()
	negwallet.SetupLoggers(rotator)
	useLogger(rotator)
	rotator.SetLogLevel(cfg.DebugLevel)

	log.Infof("starting negwalletd, datadir=%s", cfg.DataDir)

	dbPath := filepath.Join(cfg.DataDir, defaultWalletFile)
	db, err := walletdb.Create("bdb", dbPath, true, time.Second)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer db.Close()

	paramStore, err := txparam.NewStore(db)
	if err != nil {
		return fmt.Errorf("opening parameter store: %w", err)
	}

	walletStore, err := wallet.NewStore(db)
	if err != nil {
		return fmt.Errorf("opening coin/address store: %w", err)
	}

	seed, err := loadOrCreateMasterSeed(filepath.Join(cfg.DataDir, "wallet.seed"))
	if err != nil {
		return fmt.Errorf("loading master seed: %w", err)
	}
	keeper, err := keykeeper.NewLocalKeeper(seed, db)
	if err != nil {
		return fmt.Errorf("opening key keeper: %w", err)
	}

	builder := &txbuilder.Builder{
		Store:    paramStore,
		Keeper:   keeper,
		Coins:    walletStore,
		Estimate: newWeightEstimator,
	}

	gw := newLoopbackGateway(paramStore)

	driver := &txnego.Driver{
		Store:   paramStore,
		Builder: builder,
		Gateway: gw,
		Tip:     gw.Tip,
		Coins: &txnego.CoinReleaser{
			Release:     walletStore.ReleaseCoins,
			Spend:       walletStore.MarkSpent,
			Confirm:     walletStore.ConfirmIncoming,
			NewCoinID:   walletStore.AllocateCoinID,
			AddIncoming: walletStore.AddIncoming,
		},
	}

	reactor := txnego.NewReactor(driver)
	paramStore.Subscribe(reactor.OnPeerParamWrite)

	server := newRPCServer(paramStore, driver, reactor)

	macAuth, err := newMacaroonAuth(cfg.DataDir, cfg.MacaroonFile)
	if err != nil {
		return fmt.Errorf("setting up macaroon auth: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(macAuth.unaryInterceptor))
	rpc.RegisterNegotiatorServer(grpcServer, server)

	lis, err := net.Listen("tcp", cfg.RPCListen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.RPCListen, err)
	}

	go func() {
		log.Infof("gRPC server listening on %s", cfg.RPCListen)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server stopped: %v", err)
		}
	}()

	metricsServer := &http.Server{
		Addr:    cfg.MetricsListen,
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Infof("metrics server listening on %s", cfg.MetricsListen)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()

	tipTicker := time.NewTicker(time.Duration(cfg.TipIntervalMS) * time.Millisecond)
	defer tipTicker.Stop()

	var height uint64
	go func() {
		for range tipTicker.C {
			height++
			gw.OnTip(height)
			reactor.OnTip(server.activeTxIDs())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	grpcServer.GracefulStop()
	_ = metricsServer.Close()

	return nil
}

func loadOrCreateMasterSeed(path string) ([32]byte, error) {
	var seed [32]byte
	if data, err := os.ReadFile(path); err == nil {
		if len(data) != 32 {
			return seed, fmt.Errorf("seed file %s is corrupt", path)
		}
		copy(seed[:], data)
		return seed, nil
	} else if !os.IsNotExist(err) {
		return seed, err
	}

	if _, err := rand.Read(seed[:]); err != nil {
		return seed, err
	}
	if err := os.WriteFile(path, seed[:], 0600); err != nil {
		return seed, err
	}
	return seed, nil
}
