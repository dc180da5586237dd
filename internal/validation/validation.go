// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// IsValidEmail проверяет корректность адреса электронной почты.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}

	// mail.ParseAddress допускает формы вида "Name <user@host>".
	if addr.Address != email {
		return false
	}

	return strings.Contains(addr.Address, "@")
}

// ParseScheduledTime разбирает время выдачи заказа в формате "HH:MM" и
// объединяет его с текущей датой. Пустая строка означает немедленный заказ
// и возвращает nil без ошибки.
func ParseScheduledTime(value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return nil, fmt.Errorf("parse scheduled time: %w", err)
	}

	scheduled := time.Date(
		now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0,
		now.Location(),
	)

	return &scheduled, nil
}
