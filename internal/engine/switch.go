package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eventedge/hypepipe/internal/infra"
)

// BypassManager — рантайм-выключатель кэша результатов. Состояние
// живет в Redis и раздается всем инстансам шлюза через pub/sub, так
// что оператор гасит кэш без рестарта.
type BypassManager struct {
	enabled atomic.Bool
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewBypassManager(rdb *redis.Client, logger *zap.Logger) *BypassManager {
	return &BypassManager{rdb: rdb, logger: logger.Named("cache-bypass")}
}

func (m *BypassManager) Enabled() bool {
	return m.enabled.Load()
}

// Init подтягивает текущее состояние при старте сервиса.
// Отсутствие ключа означает «кэш включен».
func (m *BypassManager) Init(ctx context.Context) error {
	val, err := m.rdb.Get(ctx, infra.RedisKeyCacheBypass).Result()
	if err == redis.Nil {
		m.enabled.Store(false)
		return nil
	}
	if err != nil {
		return err
	}
	m.apply(val == "on" || val == "true" || val == "1")
	return nil
}

func (m *BypassManager) apply(on bool) {
	prev := m.enabled.Swap(on)
	if prev != on {
		m.logger.Warn("cache bypass state changed", zap.Bool("bypass", on))
	}
}

// StartListener — "живучая" подписка на сигналы переключения.
// Обрабатывает переподключения и синхронизирует состояние после
// каждого успешного коннекта (сигнал мог проскочить, пока нас не было).
func (m *BypassManager) StartListener(ctx context.Context) {
	for {
		pubsub := m.rdb.Subscribe(ctx, infra.RedisChanCacheBypass)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				pubsub.Close()
				return
			}
			m.logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanCacheBypass), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		if err := m.Init(ctx); err != nil {
			m.logger.Error("bypass sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // канал закрыт, идем на переподключение
				}
				m.apply(msg.Payload == "on" || msg.Payload == "true" || msg.Payload == "1")
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
