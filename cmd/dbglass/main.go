// Command dbglass runs the engine behind an HTTP API. A UI (or curl) loads
// an embedded database or connects to a remote server, then browses,
// queries, and mutates through the endpoints.
package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/dbglass/dbglass/internal/config"
	"github.com/dbglass/dbglass/internal/errs"
	"github.com/dbglass/dbglass/internal/logger"
	"github.com/dbglass/dbglass/internal/server"
	"github.com/dbglass/dbglass/internal/session"
	"github.com/dbglass/dbglass/internal/snapshot"
	snapminio "github.com/dbglass/dbglass/internal/snapshot/minio"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.New(nil).Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	log := logger.New(&cfg.Log)

	snaps, err := buildSnapshotStore(cfg, log)
	if err != nil {
		log.Fatalf("failed to set up snapshot store: %v", err)
	}

	sess := session.New(log, snaps)
	defer sess.Disconnect()

	srv := server.New(sess, log, cfg.Remote)

	log.With().Str("listen", cfg.Listen).Logger().Info("dbglass listening")
	if err := http.ListenAndServe(cfg.Listen, srv.Router()); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func buildSnapshotStore(cfg *config.Config, log *logger.Logger) (snapshot.Store, error) {
	switch cfg.Snapshot.Backend {
	case "none", "":
		log.Warn("snapshot persistence disabled; embedded changes will not survive restart")
		return nil, nil
	case "minio":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := snapminio.New(ctx, &cfg.Snapshot.Minio)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "local":
		store, err := snapshot.NewLocal(cfg.Snapshot.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unknown snapshot backend %q", cfg.Snapshot.Backend)
	}
}
