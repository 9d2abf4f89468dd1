package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/charmbracelet/log"

	"github.com/arclbx/tgindex/api"
	"github.com/arclbx/tgindex/config"
	"github.com/arclbx/tgindex/database"
	"github.com/arclbx/tgindex/engine"
	"github.com/arclbx/tgindex/ingest"
	"github.com/arclbx/tgindex/monitor"
	"github.com/arclbx/tgindex/service"
	"github.com/arclbx/tgindex/userclient"
)

func run() {
	logger := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		ReportCaller:    true,
	})
	if err := config.Load(); err != nil {
		logger.Errorf("Failed to load config: %v", err)
		return
	}
	if err := os.MkdirAll(config.C.DataDir, os.ModePerm); err != nil {
		logger.Errorf("Failed to create data directory: %v", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = log.WithContext(ctx, logger)

	if err := database.InitDatabase(ctx, filepath.Join(config.C.DataDir, "data.db")); err != nil {
		logger.Errorf("Failed to initialize database: %v", err)
		return
	}

	eng, err := engine.Open(ctx, config.C.IndexDir)
	if err != nil {
		logger.Errorf("Failed to open index: %v", err)
		return
	}
	defer eng.Close()

	userClient, err := userclient.NewUserClient(ctx)
	if err != nil {
		logger.Errorf("Failed to create user client: %v", err)
		return
	}
	defer userClient.Close()

	state := monitor.New(config.C.MonitorAll, config.C.ExcludedChats)
	pipeline := ingest.NewPipeline(eng, state, userClient.Source())
	if err := pipeline.ReconcileOnStartup(ctx); err != nil {
		logger.Errorf("Failed to restore monitoring state: %v", err)
		return
	}
	userClient.StartWatch(pipeline)

	if config.C.API.Enable {
		api.Serve(config.C.API.Addr, service.New(eng, state), pipeline)
		logger.Infof("API server started at %s", config.C.API.Addr)
	}

	logger.Info("tgindex is running")
	<-ctx.Done()
}
