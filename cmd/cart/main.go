// Package main is the cart service: the transaction engine with its
// write-through cache and the outbox dispatcher publishing tranlog events.
package main

import (
	"context"
	"log"

	"github.com/openretail/pos-service-layer/infrastructure/config"
	"github.com/openretail/pos-service-layer/internal/account"
	"github.com/openretail/pos-service-layer/internal/app"
	"github.com/openretail/pos-service-layer/internal/cart"
	"github.com/openretail/pos-service-layer/internal/master"
	"github.com/openretail/pos-service-layer/internal/terminal"
)

func main() {
	a, err := app.New("cart", 8003)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	store := cart.NewPostgresStore(a.Mgr, a.Outbox)
	cache := cart.NewCache(a.State, a.Log)
	catalog := master.NewCatalog(a.Mgr, a.State, a.Log)
	if base := config.GetEnv("MASTER_DATA_URL", ""); base != "" {
		catalog = catalog.WithRemote(base, a.Cfg.RequestTimeout)
	}
	svc := cart.NewService(store, cache, catalog, a.Log)
	handler := cart.NewHandler(svc, a.Log)

	// Terminal API keys are verified against the shared tenant database.
	verifier := terminal.NewPostgresStore(a.Mgr, a.Outbox)
	tenants := account.NewPostgresStore(a.Mgr)

	root := a.NewRouter()
	api := a.AuthRouter(root, verifier)
	handler.RegisterRoutes(api)

	err = a.Run(root, func(ctx context.Context) {
		go a.Outbox.Run(ctx, tenants, a.Mgr.Handle)
	})
	if err != nil {
		log.Fatalf("cart service failed: %v", err)
	}
}
