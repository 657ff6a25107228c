// resetmodes 把状态快照中的全局与 pod 模式重置为 NORMAL。
// 引擎运行时会用内存状态覆盖快照，所以需要在引擎停止后执行。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"podmesh/config"
	"podmesh/database"
	"podmesh/lock"
	"podmesh/state"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := run(configPath); err != nil {
		fmt.Printf("错误: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := &config.Config{}
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := database.NewDatabase(&database.Config{
		Type:     cfg.Database.Type,
		DSN:      cfg.Database.DSN,
		LogLevel: "silent",
	})
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	defer db.Close()

	distributedLock, err := lock.NewDistributedLock(lock.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("初始化分布式锁失败: %w", err)
	}
	defer distributedLock.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := state.NewDBStore(db, 0)
	err = lock.WithLock(ctx, distributedLock, "checkpoint", time.Minute, func(ctx context.Context) error {
		cp, err := store.Load(ctx)
		if err != nil {
			return err
		}
		reset := state.ResetModes(cp)
		if len(reset) == 0 {
			fmt.Println("所有模式已经是 NORMAL，无需重置")
			return nil
		}
		if err := store.Save(ctx, cp); err != nil {
			return err
		}
		fmt.Printf("✓ 模式已重置为 NORMAL: %s\n", strings.Join(reset, ", "))
		return nil
	})
	switch {
	case errors.Is(err, state.ErrNoCheckpoint):
		fmt.Println("没有状态快照")
		return nil
	case errors.Is(err, lock.ErrNotAcquired):
		return fmt.Errorf("快照锁被运行中的实例持有，请先停止引擎")
	}
	return err
}
