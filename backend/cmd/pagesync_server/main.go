package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/ibraude/marktwo/backend/config"
	"github.com/ibraude/marktwo/backend/internal/cache"
	"github.com/ibraude/marktwo/backend/internal/httpapi"
	"github.com/ibraude/marktwo/backend/internal/mysqldb"
	"github.com/ibraude/marktwo/backend/internal/repo"
	"github.com/ibraude/marktwo/backend/internal/service"
	"github.com/ibraude/marktwo/backend/internal/ws"
)

func main() {
	configFile := flag.String("config", "", "path to marktwo.yaml")
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load(*configFile)
	if err != nil {
		glog.Exitf("init config failed: %v", err)
	}
	glog.Infof("config: %+v", cfg)

	// === 仓库：MySQL 或内存 ===
	var (
		pages repo.PageRepo
		metas repo.MetadataRepo
	)
	if cfg.Mysql.DSN != "" {
		db, err := mysqldb.Open(cfg.Mysql.DSN)
		if err != nil {
			glog.Exitf("Failed to connect to database: %v", err)
		}
		if err := mysqldb.AutoMigrate(db); err != nil {
			glog.Exitf("Failed to migrate database: %v", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		pages, metas = mysqldb.NewPageRepo(db), mysqldb.NewMetadataRepo(db)
	} else {
		glog.Warning("mysql.dsn is empty, using in-memory store")
		mem := repo.NewMemory()
		pages, metas = mem, mem
		defer func() {
			glog.Warningf("in-memory store discarded: %d pages", mem.PageCount())
		}()
	}

	// === 页面读缓存 ===
	if cfg.Cache.Backend == "redis" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			glog.Exitf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		pages = repo.NewCachedPageRepo(pages, cache.NewRedisKV(rdb, cfg.Cache.TTL))
	}

	hub := ws.NewHub()
	opts := []service.Option{service.WithNotifier(hub)}

	// === 初始化 Kafka Producer ===
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			glog.Exitf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		dispatcher := service.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			service.NewSemaphoreControl(cfg.Kafka.Concurrency),
			service.KafkaDispatcherOptions{
				QueueSize:   cfg.Kafka.QueueSize,
				Workers:     cfg.Kafka.Workers,
				MaxRetry:    cfg.Kafka.MaxRetry,
				BaseBackoff: cfg.Kafka.BaseBackoff,
				MaxBackoff:  cfg.Kafka.MaxBackoff,
			},
		)
		// 先于 producer.Close 执行：排空队列
		defer dispatcher.Close()
		opts = append(opts, service.WithEvents(dispatcher))
	}

	svc := service.NewSyncService(pages, metas, opts...)

	gin.SetMode(gin.ReleaseMode)
	r := httpapi.NewRouter(svc, hub, httpapi.RouterOptions{EnableCORS: cfg.Running.EnableCORS})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		glog.Infof("pagesync server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Errorf("listen: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	glog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("shutdown: %v", err)
	}
}
