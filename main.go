package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"podmesh/advisory"
	"podmesh/config"
	"podmesh/database"
	"podmesh/event"
	"podmesh/exchange"
	"podmesh/exchange/okx"
	"podmesh/execution"
	"podmesh/lock"
	"podmesh/logger"
	"podmesh/market"
	"podmesh/metrics"
	"podmesh/monitor"
	"podmesh/notify"
	"podmesh/pod"
	"podmesh/safety"
	"podmesh/schema"
	"podmesh/state"
	"podmesh/strategy"
	"podmesh/trading"
	"podmesh/web"
)

// Version 版本号
var Version = "0.4.0"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Printf("PodMesh Autopilot\n")
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	logger.SetLocation(cfg.Location())
	if cfg.System.LogFile {
		logger.EnableFileLogging(cfg.System.LogDir)
	}
	defer logger.Close()

	logger.Info("🚀 PodMesh %s 启动中 (模式: %s, 合约: %s)", Version, cfg.App.TradingMode, cfg.App.Symbol)

	if err := run(cfg, configPath); err != nil {
		logger.Error("❌ %v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Info("✅ 系统已安全退出 PodMesh")
}

// loadConfig 配置文件不存在时使用默认配置（DRY_RUN）
func loadConfig(configPath string) (*config.Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		log.Printf("[WARN] 配置文件 %s 不存在，使用默认配置", configPath)
		cfg := &config.Config{}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("默认配置无效: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) (database.Database, error) {
	if cfg.Database.Type == "sqlite" && !strings.HasPrefix(cfg.Database.DSN, "file:") {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建数据目录 %s 失败: %w", dir, err)
			}
		}
	}
	db, err := database.NewDatabase(&database.Config{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: config.Interval(cfg.Database.ConnMaxLifetime),
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	return db, nil
}

func run(cfg *config.Config, configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	distributedLock, err := lock.NewDistributedLock(lock.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("初始化分布式锁失败: %w", err)
	}
	defer distributedLock.Close()

	// 事件总线：所有循环只向总线写入，持久化与通知由事件中心异步完成
	bus := event.NewBus(cfg.Events.BufferSize)
	notifier := notify.NewNotificationService(cfg)
	center := event.NewCenter(db, bus, notifier, event.CenterConfig{
		KeepCount:       cfg.Events.KeepCount,
		KeepDays:        cfg.Events.KeepDays,
		CleanupInterval: time.Duration(cfg.Events.CleanupInterval) * time.Hour,
	})
	center.Start(ctx)

	// 恢复状态
	store := state.NewDBStore(db, 0)
	cp, err := store.Load(ctx)
	switch {
	case errors.Is(err, state.ErrNoCheckpoint):
		logger.Info("ℹ️ 没有状态快照，以 NORMAL 模式冷启动")
		cp = nil
	case err != nil:
		return err
	}
	manager := pod.NewManager(cfg, cp, pod.ModeChangeObserver(bus))
	metrics.GetPrometheusMetrics().SetMode("global", manager.Global.Current().Rank())
	for _, p := range manager.Pods() {
		metrics.GetPrometheusMetrics().SetMode(p.ID(), p.Mode.Current().Rank())
	}

	// 行情
	feed := market.NewFeed(market.FeedConfigFrom(cfg))
	retrier := exchange.NewRetrier(exchange.PolicyFromConfig(cfg.Retry), exchange.Classify)
	retrier.OnCritical(func(op string, err error) {
		bus.Emit(schema.NewRiskEvent("", schema.SeverityCritical, fmt.Sprintf("Authentication error in %s: %v", op, err)))
	})
	broker, mode, err := exchange.NewBroker(cfg, retrier, feed.LastPrice)
	if err != nil {
		return err
	}

	var feedDone <-chan struct{}
	if mode == exchange.DryRun {
		walk := market.NewRandomWalk(feed, cfg.Market.SimStartPrice, cfg.Market.SimStepSigma,
			time.Duration(cfg.Market.SimIntervalMs)*time.Millisecond, 0)
		walk.Step()
		done := make(chan struct{})
		go func() {
			defer close(done)
			walk.Run(ctx)
		}()
		feedDone = done
	} else {
		stream := okx.NewTickerStream(cfg.Exchange.OKX.WsURL, cfg.App.Symbol, mode == exchange.Paper)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := market.RunOKXTickers(ctx, stream, feed); err != nil && ctx.Err() == nil {
				logger.Error("❌ OKX 行情订阅退出: %v", err)
			}
		}()
		feedDone = done
	}
	if err := feed.WaitReady(ctx, 30*time.Second); err != nil {
		logger.Warn("⚠️ 等待首个行情超时，交易循环将以 GAPPED 行情启动: %v", err)
	}

	engine := execution.NewEngine(broker)
	reconciler := safety.NewReconciler(cfg, manager, broker, engine, bus, distributedLock)
	reconciler.SetStorage(db)
	if err := reconciler.Reconcile(ctx); err != nil && !errors.Is(err, lock.ErrNotAcquired) {
		logger.Warn("⚠️ 启动对账失败: %v", err)
	}

	orchestrator := advisory.NewOrchestrator(0, manager.LearningPaused)
	loop := trading.NewLoop(cfg, manager, feed, strategy.DefaultRegistry(), orchestrator.Advise, engine, bus)
	saver := state.NewSaver(store, manager.Snapshot, distributedLock, config.Interval(cfg.Trading.CheckpointInterval))
	heartbeat := monitor.NewHeartbeat(cfg, manager, bus)

	reconcileDone := reconciler.Start(ctx)
	tradingDone := loop.Start(ctx)
	saverDone := saver.Start(ctx)
	heartbeatDone := heartbeat.Start(ctx)
	metrics.NewSystemMetricsCollector(15 * time.Second).Start(ctx)

	web.NewWebServer(cfg, web.Handlers{
		Status:  heartbeat,
		Version: Version,
		Checks: map[string]web.HealthCheck{
			"database": db.Ping,
		},
	}).Start(ctx)

	// 风控阈值支持热更新
	reloader := config.NewHotReloader(cfg)
	reloader.RegisterCallback(func(oldConfig, newConfig *config.Config, changes []config.ConfigChange) error {
		manager.Thresholds().Set(newConfig.Risk.SafeThreshold, newConfig.Risk.CrashThreshold)
		logger.Info("🔄 错误预算阈值已更新: SAFE=%d CRASH=%d", newConfig.Risk.SafeThreshold, newConfig.Risk.CrashThreshold)
		return nil
	})
	if _, err := os.Stat(configPath); err == nil {
		watcher, err := config.NewConfigWatcher(configPath, reloader)
		if err != nil {
			logger.Warn("⚠️ 配置监控不可用: %v", err)
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 启动配置监控失败: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	logger.Info("✅ PodMesh 已启动 (%s 模式, %d 个 pod, 全局模式 %s)", mode, len(manager.Pods()), manager.Global.Current())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("⏹️ 收到信号 %v，正在停止...", sig)

	// 先停止所有循环，再保存最终快照，最后排空事件总线
	cancel()
	<-tradingDone
	<-reconcileDone
	<-saverDone
	<-heartbeatDone
	<-feedDone

	finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finalCancel()
	if err := saver.SaveNow(finalCtx); err != nil {
		logger.Error("❌ 保存最终状态快照失败: %v", err)
	} else {
		logger.Info("💾 最终状态快照已保存 (cycle=%d)", manager.Cycle())
	}

	bus.Close()
	center.Wait()
	notifier.Wait()
	return nil
}
