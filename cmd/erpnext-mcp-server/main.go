package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/gerbenvds/erpnext-mcp-server/internal/config"
	"github.com/gerbenvds/erpnext-mcp-server/internal/erpnext"
	"github.com/gerbenvds/erpnext-mcp-server/internal/logging"
	"github.com/gerbenvds/erpnext-mcp-server/internal/server"
	"github.com/gerbenvds/erpnext-mcp-server/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: $ERPNEXT_MCP_CONFIG)")
	transportName := flag.String("transport", "", "stdio or http (default: $MCP_TRANSPORT or stdio)")
	flag.Parse()

	if *transportName != "" {
		os.Setenv("MCP_TRANSPORT", *transportName)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Debug: cfg.Debug, LogFile: cfg.LogFile})
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	erp := erpnext.NewClient(cfg, logger, erpnext.WithTimeout(cfg.RequestTimeout))
	logger.Info("ERPNext client configured",
		zap.String("url", cfg.BaseURL),
		zap.Bool("authenticated", erp.IsAuthenticated()),
		zap.String("transport", cfg.Transport))
	if !erp.IsAuthenticated() {
		logger.Warn("no API credentials set; tool calls will report not authenticated")
	}

	metrics := server.NewMetrics()
	newServer := func() *mcp.Server {
		return server.New(erp, server.Options{Logger: logger, Metrics: metrics})
	}
	defer func() {
		s := metrics.Snapshot()
		logger.Info("tool call summary",
			zap.Int64("total", s.Total),
			zap.Int64("failure", s.Failure),
			zap.Any("per_tool", s.PerTool))
	}()

	switch cfg.Transport {
	case config.TransportHTTP:
		h := transport.NewHTTPHandler(newServer, transport.HTTPOptions{
			Logger:        logger,
			Authenticated: erp.IsAuthenticated(),
			Metrics:       func() any { return metrics.Snapshot() },
		})
		addr := net.JoinHostPort("", strconv.Itoa(cfg.Port))
		return transport.ServeHTTP(ctx, addr, h, logger)
	case config.TransportStdio:
		return transport.RunStdio(ctx, newServer(), logger)
	}
	return errors.New("unknown transport " + cfg.Transport)
}
