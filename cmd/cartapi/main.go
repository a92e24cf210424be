package main

import (
	"os"

	"github.com/ikkim/cartsync/internal/stubapi"
	"github.com/ikkim/cartsync/pkg/logger"
)

// Local Cart API stub for development: one in-memory cart, no auth.
func main() {
	logger.Initialize(logger.Config{
		Level:       "debug",
		Format:      "console",
		EnableColor: true,
	})

	addr := os.Getenv("CART_API_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := stubapi.NewServer()
	logger.Info("Starting Cart API stub", map[string]interface{}{
		"addr": addr,
	})

	if err := server.Router().Run(addr); err != nil {
		logger.Fatal("Cart API stub stopped", err)
	}
}
