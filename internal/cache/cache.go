// Package cache реализует кэш меню и ключи идемпотентности поверх Redis.
// Redis необязателен: методы nil-безопасны, без него сервис просто ходит
// в БД за меню и не защищает подтверждение оплаты от параллельного запуска.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/canteen-system/internal/model"
)

const (
	menuKeyPrefix   = "menu:"
	verifyKeyPrefix = "verify:"
)

// Cache инкапсулирует работу с Redis.
type Cache struct {
	client *redis.Client
}

// New создаёт подключение к Redis и проверяет его доступность.
func New(addr string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close закрывает подключение к Redis.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// GetMenu возвращает закэшированный список меню для категории.
// Второе значение сообщает, был ли кэш заполнен.
func (c *Cache) GetMenu(ctx context.Context, category string) ([]model.MenuItem, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, menuKeyPrefix+category).Bytes()
	if err != nil {
		return nil, false
	}

	var items []model.MenuItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}

	return items, true
}

// SetMenu сохраняет список меню для категории на время ttl.
func (c *Cache) SetMenu(ctx context.Context, category string, items []model.MenuItem, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return
	}

	_ = c.client.Set(ctx, menuKeyPrefix+category, raw, ttl).Err()
}

// InvalidateMenu сбрасывает кэш меню после изменения каталога.
func (c *Cache) InvalidateMenu(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}

	iter := c.client.Scan(ctx, 0, menuKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err()
	}
}

// AcquireVerifyLock захватывает ключ идемпотентности подтверждения оплаты
// заказа. Возвращает false, если подтверждение уже выполняется. Без Redis
// захват всегда успешен.
func (c *Cache) AcquireVerifyLock(ctx context.Context, orderID string, ttl time.Duration) bool {
	if c == nil || c.client == nil {
		return true
	}

	ok, err := c.client.SetNX(ctx, verifyKeyPrefix+orderID, 1, ttl).Result()
	if err != nil {
		// Недоступность Redis не должна блокировать оплату.
		return true
	}

	return ok
}

// ReleaseVerifyLock снимает ключ идемпотентности подтверждения оплаты.
func (c *Cache) ReleaseVerifyLock(ctx context.Context, orderID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, verifyKeyPrefix+orderID).Err()
}
