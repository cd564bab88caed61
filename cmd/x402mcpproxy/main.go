// Command x402mcpproxy runs the transparent x402 payment proxy in front of
// an upstream MCP server. Configuration is entirely environment-driven; see
// internal/config for the X402MCP_* variables it reads.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/x402-foundation/x402-mcp-proxy/internal/config"
	"github.com/x402-foundation/x402-mcp-proxy/proxyserver"
	"github.com/x402-foundation/x402-mcp-proxy/treasurer"
	"github.com/x402-foundation/x402-mcp-proxy/wallet"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	w, err := buildWallet(cfg)
	if err != nil {
		logger.Error("wallet init failed", "err", err)
		os.Exit(1)
	}

	tr := buildTreasurer(cfg, w)

	gin.SetMode(gin.ReleaseMode)
	srv := proxyserver.New(proxyserver.Options{
		Wallet:     w,
		Treasurer:  tr,
		MaxPending: cfg.MaxPendingRequests,
		Log:        logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logger.Info("x402 mcp proxy starting",
		"addr", addr,
		"wallet_mode", cfg.WalletMode,
		"treasurer_mode", cfg.TreasurerMode,
		"max_pending", cfg.MaxPendingRequests,
	)

	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func buildWallet(cfg *config.Config) (wallet.Wallet, error) {
	switch cfg.WalletMode {
	case config.WalletModeSmartAccount:
		return wallet.NewSmartAccountWallet(cfg.SmartAccountAddress, cfg.WalletSessionKeyPrivateKey, cfg.WalletValidatorAddress, cfg.WalletChainID)
	default:
		return wallet.NewEOAWallet(cfg.WalletPrivateKey)
	}
}

func buildTreasurer(cfg *config.Config, w wallet.Wallet) treasurer.Treasurer {
	switch cfg.TreasurerMode {
	case config.TreasurerModeRemote:
		return treasurer.NewRemotePolicyTreasurer(treasurer.Config{
			URL:     cfg.TreasurerURL,
			Wallet:  w,
			Timeout: cfg.TreasurerTimeout,
		})
	default:
		return treasurer.NewNaiveTreasurer(cfg.NaiveAutoApproveMaxAmount)
	}
}
