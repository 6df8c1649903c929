package main

import (
	"log"
	"os"
	"os/signal"

	"github.com/hisoka-md/pairing-server/api"
	"github.com/hisoka-md/pairing-server/auth"
	"github.com/hisoka-md/pairing-server/config"
	"github.com/hisoka-md/pairing-server/pairing"
	"github.com/hisoka-md/pairing-server/server"
	"github.com/hisoka-md/pairing-server/session"
	"github.com/hisoka-md/pairing-server/store"
	"github.com/hisoka-md/pairing-server/utils"
	"github.com/hisoka-md/pairing-server/whatsapp"
)

func main() {
	// Load configuration; the admin password is required
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	utils.Init(cfg.LogLevel)

	// Initialize per-session credential storage under the private directory
	sessionStores, err := store.NewSessionStoreManager(cfg.SessionsDir)
	if err != nil {
		log.Fatalf("Failed to initialize session storage: %v", err)
	}
	defer sessionStores.CloseAll()

	// Initialize credential store with the seeded admin account
	credentials := auth.NewStore(cfg.AdminUsername, cfg.AdminPassword)

	// Initialize session registry
	registry := session.NewRegistry(sessionStores)
	registry.StartSweeper(cfg.CleanupInterval(), cfg.SessionExpiry())

	// Initialize the pairing manager on top of the WhatsApp connector
	connector := whatsapp.NewConnector(sessionStores)
	manager := pairing.NewManager(registry, connector, pairing.Options{
		SettleDelay: cfg.SettleDelay(),
		Timeout:     cfg.PairingTimeout(),
		PairWindow:  cfg.SessionExpiry(),
	})

	// Start REST API server
	handler := api.NewHandler(credentials, registry, manager)
	apiServer := server.NewServer(handler, cfg.PublicDir)
	go func() {
		if err := apiServer.Start(cfg.APIPort); err != nil {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}()

	utils.Logger.Info("pairing service started", "addr", cfg.APIPort)
	utils.Logger.Info("pairing endpoint ready", "path", "POST /request-pairing")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	utils.Logger.Info("shutting down")
	registry.Shutdown()
}
