/*
 * Copyright 2024 The propd Authors.
 */

// Command ap.propd is the property service daemon (C6): it listens on the
// two local sockets, validates and applies set requests, and serves
// prometheus metrics.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/greenfield-labs/propd/internal/propd"
)

var (
	propertiesDir = flag.String("properties-dir", propd.DefaultPropertiesDir,
		"directory containing property-area files and property_contexts")
	socketDir = flag.String("socket-dir", propd.DefaultSocketDir,
		"directory in which to create the service sockets")
	persistLog = flag.String("persist-log", "",
		"path to the persist.* append-only log (empty disables persistence)")
	listenAddr = flag.String("listen-address", ":9108",
		"address to serve /metrics on")
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	flag.Parse()

	zapConfig := zap.NewProductionConfig()
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v\n", err)
	}
	defer logger.Sync()
	slogger := logger.Sugar()

	svc, err := propd.New(propd.Config{
		PropertiesDir:  *propertiesDir,
		SocketDir:      *socketDir,
		PersistLogPath: *persistLog,
		Logger:         slogger,
	})
	if err != nil {
		log.Fatalf("Failed to start property service: %v\n", err)
	}
	defer svc.Close()

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*listenAddr, nil); err != nil {
			slogger.Warnw("metrics server exited", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		slogger.Infow("signal received, shutting down")
		cancel()
	}()

	slogger.Infow("ap.propd starting",
		"properties-dir", *propertiesDir,
		"socket-dir", *socketDir)

	if err := svc.Serve(ctx); err != nil {
		log.Fatalf("Serve failed: %v\n", err)
	}
}
