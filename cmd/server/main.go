package main

import (
	"log"
	"net/http"

	"github.com/maksblyz/reeve/internal/billing"
	"github.com/maksblyz/reeve/internal/config"
	"github.com/maksblyz/reeve/internal/serverapp"
	"github.com/maksblyz/reeve/internal/store"
)

func main() {
	cfg, err := config.LoadOrDefault("reeve_config.yml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	var gateway billing.Gateway
	switch cfg.Billing.Mode {
	case "fake":
		log.Printf("billing mode is fake; no real charges will be made")
		gateway = billing.NewFakeGateway()
	default:
		gateway, err = billing.NewStripeGateway(config.StripeSecretKey(), config.StripeWebhookSecret(), log.Default())
		if err != nil {
			log.Fatalf("build stripe gateway: %v", err)
		}
	}

	app, err := serverapp.New(serverapp.Options{
		Config:  cfg,
		DB:      db,
		Gateway: gateway,
		Logger:  log.Default(),
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}
	defer app.Close()

	log.Printf("listening on http://localhost%s", cfg.Server.Addr)
	log.Fatal(http.ListenAndServe(cfg.Server.Addr, app.Handler))
}
