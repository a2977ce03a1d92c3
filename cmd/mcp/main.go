// interpay MCP server: exposes the payments API as MCP tools over stdio.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/interpay/internal/logging"
	"github.com/mbd888/interpay/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	// stdout carries the protocol.
	logger := logging.NewWithWriter(envOrDefault("LOG_LEVEL", "info"), envOrDefault("LOG_FORMAT", "text"), os.Stderr)

	cfg := mcpserver.Config{
		APIURL: envOrDefault("INTERPAY_API_URL", "http://localhost:8080"),
	}
	logger.Info("starting MCP server", "api", cfg.APIURL, "version", mcpserver.Version)

	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg)); err != nil {
		logger.Error("MCP server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
