package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/ibraude/marktwo/backend/config"
	"github.com/ibraude/marktwo/backend/internal/assemble"
	"github.com/ibraude/marktwo/backend/internal/cache"
	"github.com/ibraude/marktwo/backend/internal/pagestore"
	"github.com/ibraude/marktwo/backend/internal/remote"
	"github.com/ibraude/marktwo/backend/internal/syncer"
)

const MarktwoVersion = "0.1.0"

const usage = `marktwo: sync a markdown file with a page-sync server.

Usage:
    marktwo pull <doc> [options]
    marktwo status <doc> [options]
    marktwo push <doc> <file> [options]
    marktwo watch <doc> <file> [options]
    marktwo -h | --help
    marktwo --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    -c --config=<file>     Config file (default: marktwo.yaml in ./backend/config, ./config or .).
    --server=<url>         Server base url, overrides remote.base_url.
    --verbose=<level>      Log verbosity [default: 0].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], MarktwoVersion)
	if err != nil {
		panic(err)
	}

	// glog 的 flag 只用来接日志配置，命令行由 docopt 解析
	_ = flag.CommandLine.Parse(nil)
	_ = flag.Set("logtostderr", "true")
	if level, _ := opts.String("--verbose"); level != "" {
		if _, err := strconv.Atoi(level); err == nil {
			_ = flag.Set("v", level)
		}
	}
	defer glog.Flush()

	configFile, _ := opts.String("--config")
	cfg, err := config.Load(configFile)
	if err != nil {
		glog.Exitf("init config failed: %v", err)
	}
	if server, _ := opts.String("--server"); server != "" {
		cfg.Remote.BaseURL = server
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, closeFn, err := newApp(ctx, cfg)
	if err != nil {
		glog.Exitf("%v", err)
	}
	defer closeFn()

	doc, _ := opts.String("<doc>")
	file, _ := opts.String("<file>")

	if pull_, _ := opts.Bool("pull"); pull_ {
		err = app.pull(ctx, doc, os.Stdout)
	} else if status_, _ := opts.Bool("status"); status_ {
		err = app.status(ctx, doc, os.Stdout)
	} else if push_, _ := opts.Bool("push"); push_ {
		err = app.push(ctx, doc, file)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		err = app.watch(ctx, doc, file)
	}
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "marktwo: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

// newApp 按配置组装客户端：本地缓存（redis 或内存）+ HTTP 远端
func newApp(ctx context.Context, cfg *config.Config) (*app, func(), error) {
	var (
		kv      cache.KV
		closeFn = func() {}
	)
	switch cfg.Cache.Backend {
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		kv = cache.NewRedisKV(rdb, cfg.Cache.TTL)
		closeFn = func() { _ = rdb.Close() }
	default:
		kv = cache.NewMemoryKV()
	}

	client := remote.NewHTTPClient(cfg.Remote.BaseURL, &http.Client{Timeout: cfg.Remote.Timeout})
	store := pagestore.New(kv, client, cfg.Sync.FetchLimit)
	engine := syncer.NewEngine(store, client, assemble.New(store), syncer.Options{
		PageCapacity: cfg.Sync.PageCapacity,
	})
	return &app{engine: engine, store: store, remote: client, watcher: client, debounce: cfg.Sync.Debounce}, closeFn, nil
}
