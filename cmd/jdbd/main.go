// Command jdbd runs the jdb storage engine behind a small admin HTTP API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dsjohal14/jdb/internal/httpapi"
	"github.com/dsjohal14/jdb/internal/jdb"
	"github.com/dsjohal14/jdb/internal/libs/config"
	"github.com/dsjohal14/jdb/internal/libs/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	obs.InitLogger(cfg.LogLevel)
	log := obs.Logger("jdbd")

	jcfg := jdb.DefaultConfig()
	jcfg.HandleCacheSize = cfg.HandleCacheSize
	jcfg.CatalogDSN = cfg.CatalogDSN
	switch cfg.CompressionCodec {
	case "lz4":
		jcfg.CompressionCodec = jdb.CodecLZ4
	case "zstd":
		jcfg.CompressionCodec = jdb.CodecZstd
	}

	coord, err := jdb.Open(cfg.DataDir, jcfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer coord.Close()

	srv := &http.Server{
		Addr:    cfg.APIHost + ":" + cfg.APIPort,
		Handler: httpapi.Router(coord),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("jdbd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
