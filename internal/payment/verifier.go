package payment

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultDelay       = 3 * time.Second
	defaultSuccessRate = 0.95
)

// Verifier имитирует подтверждение оплаты платёжным шлюзом: после
// фиксированной задержки исход выбирается случайно с высоким весом успеха.
// Приложение не получает callback от UPI, поэтому подтверждение запускается
// пользователем вручную.
type Verifier struct {
	delay       time.Duration
	successRate float64
	randFloat   func() float64
}

// NewVerifier создаёт имитацию подтверждения оплаты с указанной задержкой.
func NewVerifier(delay time.Duration) *Verifier {
	return &Verifier{
		delay:       delay,
		successRate: defaultSuccessRate,
		randFloat:   rand.Float64,
	}
}

// Verify ожидает имитацию сетевого обмена и возвращает исход платежа.
// Отмена контекста прерывает ожидание.
func (v *Verifier) Verify(ctx context.Context, orderID string) (bool, error) {
	delay := v.delay
	if delay == 0 {
		delay = defaultDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
	}

	return v.randFloat() < v.successRate, nil
}
