// Package main is the report service: an idempotent sink aggregating
// tranlog, cashlog and opencloselog events into sales and cash reports.
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/openretail/pos-service-layer/internal/app"
	"github.com/openretail/pos-service-layer/internal/eventbus"
	"github.com/openretail/pos-service-layer/internal/idempotent"
	"github.com/openretail/pos-service-layer/internal/report"
)

const consumerName = "report"

func main() {
	a, err := app.New("report", 8005)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	svc := report.NewService(a.Mgr, a.Log)
	handler := report.NewHandler(svc, a.Log)

	adapter := idempotent.New(a.State, a.Log)
	tranlogHandler := adapter.Wrap(consumerName, svc.HandleTranlog)
	cashlogHandler := adapter.Wrap(consumerName, svc.HandleCashlog)
	openCloseHandler := adapter.Wrap(consumerName, svc.HandleOpenCloseLog)

	root := a.NewRouter()
	api := a.AuthRouter(root, nil)
	handler.RegisterRoutes(api)
	api.HandleFunc("/tranlog", eventbus.IngressHandler("report.ingress_tranlog", tranlogHandler)).Methods(http.MethodPost)
	api.HandleFunc("/cashlog", eventbus.IngressHandler("report.ingress_cashlog", cashlogHandler)).Methods(http.MethodPost)
	api.HandleFunc("/opencloselog", eventbus.IngressHandler("report.ingress_opencloselog", openCloseHandler)).Methods(http.MethodPost)

	err = a.Run(root, func(ctx context.Context) {
		subscribe(ctx, a, eventbus.TopicTranlog, tranlogHandler)
		subscribe(ctx, a, eventbus.TopicCashlog, cashlogHandler)
		subscribe(ctx, a, eventbus.TopicOpenCloseLog, openCloseHandler)
	})
	if err != nil {
		log.Fatalf("report service failed: %v", err)
	}
}

func subscribe(ctx context.Context, a *app.App, topic string, handler eventbus.Handler) {
	go func() {
		if err := a.Bus.Subscribe(ctx, topic, consumerName, hostname(), handler); err != nil && ctx.Err() == nil {
			a.Log.WithError(err).WithFields(map[string]interface{}{"topic": topic}).Error("subscription ended")
		}
	}()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "report-worker"
	}
	return h
}
