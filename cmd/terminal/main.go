// Package main is the terminal service: terminal lifecycle, cash drawer
// operations, and the outbox dispatcher publishing cashlog and opencloselog
// events.
package main

import (
	"context"
	"log"

	"github.com/openretail/pos-service-layer/internal/account"
	"github.com/openretail/pos-service-layer/internal/app"
	"github.com/openretail/pos-service-layer/internal/terminal"
)

func main() {
	a, err := app.New("terminal", 8002)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	store := terminal.NewPostgresStore(a.Mgr, a.Outbox)
	svc := terminal.NewService(store, a.Log)
	handler := terminal.NewHandler(svc, a.Log)

	// The tenant registry drives the outbox dispatcher.
	tenants := account.NewPostgresStore(a.Mgr)

	root := a.NewRouter()
	api := a.AuthRouter(root, store)
	handler.RegisterRoutes(api)
	handler.RegisterStoreRoutes(api)

	err = a.Run(root, func(ctx context.Context) {
		go a.Outbox.Run(ctx, tenants, a.Mgr.Handle)
	})
	if err != nil {
		log.Fatalf("terminal service failed: %v", err)
	}
}
