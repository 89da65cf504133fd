// Package main is the stock service: inventory updates with alerting, the
// WebSocket hub, the tranlog consumer, snapshots and their scheduler.
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/openretail/pos-service-layer/internal/account"
	"github.com/openretail/pos-service-layer/internal/app"
	"github.com/openretail/pos-service-layer/internal/eventbus"
	"github.com/openretail/pos-service-layer/internal/idempotent"
	"github.com/openretail/pos-service-layer/internal/scheduler"
	"github.com/openretail/pos-service-layer/internal/stock"
	"github.com/openretail/pos-service-layer/internal/terminal"
	"github.com/openretail/pos-service-layer/internal/wshub"
)

const consumerName = "stock"

func main() {
	a, err := app.New("stock", 8004)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	hub := wshub.NewHub(a.Log)
	store := stock.NewPostgresStore(a.Mgr)
	svc := stock.NewService(store, a.State, stock.HubBroadcaster{Hub: hub}, a.Cfg.AlertCooldownSeconds, a.Log)
	handler := stock.NewHandler(svc, a.Log)

	adapter := idempotent.New(a.State, a.Log)
	tranlogHandler := adapter.Wrap(consumerName, svc.HandleTranlog)

	verifier := terminal.NewPostgresStore(a.Mgr, a.Outbox)
	tenants := account.NewPostgresStore(a.Mgr)
	sched := scheduler.New(svc, tenants, a.State, a.Log)

	catchUp := func(r *http.Request, tenantID, storeCode string) []wshub.Message {
		alerts := svc.CatchUpAlerts(r.Context(), tenantID, storeCode)
		msgs := make([]wshub.Message, 0, len(alerts))
		for _, alert := range alerts {
			msgs = append(msgs, stock.AlertMessage(alert))
		}
		return msgs
	}
	wsEndpoint := wshub.NewEndpoint(hub, a.Broker, catchUp, a.Log)

	root := a.NewRouter()
	root.Handle("/ws/{tenantId}/{storeCode}", wsEndpoint).Methods(http.MethodGet)

	api := a.AuthRouter(root, verifier)
	handler.RegisterRoutes(api)
	api.HandleFunc("/tranlog", eventbus.IngressHandler("stock.ingress_tranlog", tranlogHandler)).Methods(http.MethodPost)

	err = a.Run(root, func(ctx context.Context) {
		go func() {
			if err := a.Bus.Subscribe(ctx, eventbus.TopicTranlog, consumerName, hostname(), tranlogHandler); err != nil && ctx.Err() == nil {
				a.Log.WithError(err).Error("tranlog subscription ended")
			}
		}()
		if err := sched.Start(ctx); err != nil {
			a.Log.WithError(err).Error("start scheduler")
		}
		go func() {
			<-ctx.Done()
			sched.Stop()
		}()
	})
	if err != nil {
		log.Fatalf("stock service failed: %v", err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "stock-worker"
	}
	return h
}
