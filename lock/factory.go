package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"podmesh/config"
	"podmesh/logger"
)

// Config 分布式锁配置
type Config struct {
	Enabled    bool
	Type       string
	Prefix     string
	DefaultTTL time.Duration
	Redis      RedisConfig
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// ConfigFrom 从全局配置中取出锁配置
func ConfigFrom(cfg *config.Config) *Config {
	dl := cfg.DistributedLock
	return &Config{
		Enabled:    dl.Enabled,
		Type:       dl.Type,
		Prefix:     dl.Prefix,
		DefaultTTL: time.Duration(dl.DefaultTTL) * time.Second,
		Redis: RedisConfig{
			Addr:     dl.Redis.Addr,
			Password: dl.Redis.Password,
			DB:       dl.Redis.DB,
			PoolSize: dl.Redis.PoolSize,
		},
	}
}

// NewDistributedLock 根据配置创建分布式锁实例
// 如果未启用分布式锁，返回 NopLock（零开销）
func NewDistributedLock(config *Config) (DistributedLock, error) {
	if !config.Enabled {
		return NewNopLock(), nil
	}

	switch config.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("连接 Redis %s 失败: %w", config.Redis.Addr, err)
		}
		logger.Info("✅ 分布式锁已启用: redis %s", config.Redis.Addr)
		return NewRedisLock(client, config.Prefix), nil

	default:
		return nil, fmt.Errorf("unsupported lock type: %s", config.Type)
	}
}
