package transport

import (
	"context"
	"errors"
	"io"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// RunStdio serves a single session over stdin/stdout until the client
// disconnects or ctx is cancelled.
func RunStdio(ctx context.Context, srv *mcp.Server, logger *zap.Logger) error {
	return run(ctx, srv, &mcp.StdioTransport{}, logger)
}

// RunIO is RunStdio over arbitrary streams.
func RunIO(ctx context.Context, srv *mcp.Server, r io.ReadCloser, w io.WriteCloser, logger *zap.Logger) error {
	return run(ctx, srv, &mcp.IOTransport{Reader: r, Writer: w}, logger)
}

func run(ctx context.Context, srv *mcp.Server, t mcp.Transport, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("MCP server starting (stdio)")
	err := srv.Run(ctx, t)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		logger.Info("MCP server stopped")
		return nil
	}
	return err
}
