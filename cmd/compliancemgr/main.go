package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avelinecloud/compliancemgr/internal/config"
	"github.com/avelinecloud/compliancemgr/internal/controls"
	awscontrols "github.com/avelinecloud/compliancemgr/internal/controls/aws"
	azcontrols "github.com/avelinecloud/compliancemgr/internal/controls/azure"
	"github.com/avelinecloud/compliancemgr/internal/database"
	"github.com/avelinecloud/compliancemgr/internal/evidence"
	"github.com/avelinecloud/compliancemgr/internal/logger"
	"github.com/avelinecloud/compliancemgr/internal/metrics"
	"github.com/avelinecloud/compliancemgr/internal/scheduler"
	"github.com/avelinecloud/compliancemgr/internal/service"
	"github.com/avelinecloud/compliancemgr/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	metricsAddr := flag.String("metrics-addr", ":9090", "prometheus metrics listen address, empty to disable")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Get().Fatal("loading configuration", logger.Error(err))
	}
	logger.Initialize(cfg.Log)
	log := logger.New("main")

	db, err := database.New(&database.Config{Path: cfg.Database.Path})
	if err != nil {
		log.Fatal("opening database", logger.Error(err))
	}
	defer db.Close()

	catalog := controls.NewCatalog()
	if err := awscontrols.Register(catalog); err != nil {
		log.Fatal("registering AWS controls", logger.Error(err))
	}
	if err := azcontrols.Register(catalog); err != nil {
		log.Fatal("registering Azure controls", logger.Error(err))
	}
	catalog.Freeze()
	log.Info("catalog loaded", logger.Int("controls", catalog.Len()))

	var evidenceStore *evidence.Store
	if cfg.Evidence.Bucket != "" {
		objects, err := evidence.NewS3ObjectStore(context.Background(), cfg.Evidence.Bucket, cfg.Evidence.Region)
		if err != nil {
			log.Fatal("configuring evidence bucket", logger.Error(err))
		}
		evidenceStore = evidence.NewStore(objects)
		log.Info("evidence store configured", logger.String("bucket", cfg.Evidence.Bucket))
	} else {
		log.Warn("no evidence bucket configured, reports degrade to inline artifacts")
	}

	svc := service.New(store.New(db), catalog, service.DefaultAdapterFactory,
		evidenceStore, cfg.Scan, metrics.Default())
	if err := svc.SyncCatalog(context.Background()); err != nil {
		log.Fatal("syncing catalog mirror", logger.Error(err))
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error("metrics listener stopped", logger.Error(err))
			}
		}()
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(svc)
		if err := sched.Start(cfg.Scheduler.Schedule); err != nil {
			log.Fatal("starting scheduler", logger.Error(err))
		}
	}

	log.Info("compliancemgr started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	if sched != nil {
		sched.Stop()
	}
}
