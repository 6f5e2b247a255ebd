// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/openinstrument/store/internal/cluster"
	"github.com/openinstrument/store/internal/datastore"
	"github.com/openinstrument/store/internal/httpcache"
	"github.com/openinstrument/store/internal/recordlog"
	"github.com/openinstrument/store/internal/retention"
	"github.com/openinstrument/store/internal/storeapi"
	"github.com/openinstrument/store/internal/storefile"
	"github.com/openinstrument/store/pkg/log"
)

func main() {
	var flagGops bool
	var flagAddr, flagDataDir, flagConfigFile, flagSelf string
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagAddr, "addr", ":8081", "address to listen on")
	flag.StringVar(&flagDataDir, "data-dir", "./var/store", "directory holding the record log and indexed files")
	flag.StringVar(&flagConfigFile, "config", "./storeconfig.json", "path to the cluster/retention configuration document")
	flag.StringVar(&flagSelf, "self", "", "this server's own address as it appears in storeconfig.json's peers[], so it is excluded from fan-out")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("loading .env failed: %s", err.Error())
	}

	if err := os.MkdirAll(flagDataDir, 0o755); err != nil {
		log.Fatalf("creating data dir %s: %s", flagDataDir, err.Error())
	}

	configStore, err := cluster.LoadConfigStore(flagConfigFile)
	if err != nil {
		log.Fatalf("loading config %s: %s", flagConfigFile, err.Error())
	}
	if err := configStore.Watch(); err != nil {
		log.Fatalf("watching config %s: %s", flagConfigFile, err.Error())
	}

	recordLog, err := recordlog.Open(flagDataDir, storefile.Write)
	if err != nil {
		log.Fatalf("opening record log in %s: %s", flagDataDir, err.Error())
	}

	store := datastore.New(recordLog)
	recordLog.ReplayLog(store.LoadReplayed)

	fileManager, err := retention.NewFileManager(flagDataDir)
	if err != nil {
		log.Fatalf("opening indexed files in %s: %s", flagDataDir, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := recordLog.Start(ctx); err != nil {
		log.Fatalf("starting record log background loop: %s", err.Error())
	}
	if err := fileManager.Start(ctx, configStore.Current().Retention, func() int64 { return time.Now().UnixMilli() }); err != nil {
		log.Fatalf("starting retention file manager: %s", err.Error())
	}
	configStore.OnReload(func(cfg *cluster.StoreConfig) {
		log.Infof("storeconfig reloaded: %d peers, interval=%dms", len(cfg.Peers), cfg.Interval)
	})

	peers := cluster.NewFanout(storeapi.NewHTTPPeerClient())
	api := &storeapi.StoreAPI{Store: store, Config: configStore, Files: fileManager, Peers: peers, Self: flagSelf}
	r := mux.NewRouter()
	api.MountRoutes(r)

	// Serve every GET through a response cache with a one-second ttl, so
	// a burst of identical requests (for example to /get_config) between
	// reloads doesn't cause a stampede of re-serialization.
	cache := httpcache.NewHandler(1<<20, time.Second, r)

	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	loggedRouter := handlers.CustomLoggingHandler(io.Discard, cache, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Infof("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})

	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      loggedRouter,
		Addr:         flagAddr,
	}

	listener, err := net.Listen("tcp", flagAddr)
	if err != nil {
		log.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("HTTP server listening at %s...", flagAddr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("shutting down...")

	server.Shutdown(context.Background())
	cancel()
	fileManager.Shutdown()
	recordLog.Shutdown()
	configStore.Shutdown()

	wg.Wait()
	log.Info("graceful shutdown completed")
}
