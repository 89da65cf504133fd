// Package main is the account service: tenant and user registration plus
// token issuance.
package main

import (
	"context"
	"log"

	"github.com/gorilla/mux"

	"github.com/openretail/pos-service-layer/infrastructure/middleware"
	"github.com/openretail/pos-service-layer/internal/account"
	"github.com/openretail/pos-service-layer/internal/app"
)

func main() {
	a, err := app.New("account", 8001)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	if err := a.Mgr.ProvisionCommons(context.Background()); err != nil {
		log.Fatalf("provision commons database: %v", err)
	}

	store := account.NewPostgresStore(a.Mgr)
	svc := account.NewService(store, a.Mgr, a.Broker, a.Log)
	handler := account.NewHandler(svc, a.Log)

	root := a.NewRouter()

	// Credential endpoints are rate limited per client IP.
	limiter := middleware.NewRateLimiter(5, 10)
	public := a.PublicRouter(root)
	public.Use(mux.MiddlewareFunc(limiter.Handler))
	handler.RegisterPublicRoutes(public)

	protected := a.AuthRouter(root, nil)
	handler.RegisterProtectedRoutes(protected)

	if err := a.Run(root, nil); err != nil {
		log.Fatalf("account service failed: %v", err)
	}
}
