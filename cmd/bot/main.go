// Polymarket Cricket Taker — an automated taker bot for binary cricket
// prediction markets on the Polymarket CLOB.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine + API, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires feed → strategy → exchange into match sessions
//	strategy/engine.go   — wicket protocol: on W, sell the batting team and buy the bowling team
//	strategy/ledger.go   — position ledger with a one-way budget ratchet (sells never refund spend)
//	market/book.go       — local order book pair fed by WebSocket snapshots + price changes
//	exchange/client.go   — REST client for the Polymarket CLOB API (place/cancel/poll orders)
//	exchange/auth.go     — L1 (EIP-712) and L2 (HMAC) authentication
//	exchange/orders.go   — EIP-712 order building and signing with 6-decimal amount floors
//	exchange/ws.go       — market data WebSocket with auto-reconnect
//	chain/balance.go     — ERC-1155 balance reads for on-chain inventory reconciliation
//	api/                 — HTTP control surface: sessions, signals, state, live event stream
//
// How it trades:
//
//	Cricket delivery signals arrive over the control API. On a wicket the
//	bot sells the batting team's token at the best bid and buys the bowling
//	team's token at the best ask, both fill-and-kill. After a delay each
//	fill is reverted with a resting GTC order at the fill price, capturing
//	the price move the wicket caused.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polymarket-taker/internal/api"
	"polymarket-taker/internal/config"
	"polymarket-taker/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	var apiServer *api.Server
	if cfg.Server.Enabled {
		apiServer = api.NewServer(cfg.Server, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("control api failed", "error", err)
			}
		}()
		logger.Info("control api started", "url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("polymarket cricket taker started",
		"condition_id", cfg.Market.ConditionID,
		"budget", cfg.Trading.Budget,
		"max_order_notional", cfg.Trading.MaxOrderNotional,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop control api", "error", err)
		}
	}

	// Stop any running session so resting revert orders are swept.
	if err := eng.StopSession(); err == nil {
		logger.Info("session stopped on shutdown")
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
