// Package suggest предоставляет клиент для внешнего сервиса рекомендаций.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Suggestion описывает одну рекомендацию позиции меню.
type Suggestion struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// fallback возвращается при любой ошибке или пустом ответе сервиса.
var fallback = []Suggestion{
	{Name: "Cheese Burger", Reason: "Popular choice today"},
	{Name: "Veg Sandwich", Reason: "Light & filling"},
	{Name: "French Fries", Reason: "Quick snack"},
}

// Fallback возвращает статический набор рекомендаций.
func Fallback() []Suggestion {
	out := make([]Suggestion, len(fallback))
	copy(out, fallback)
	return out
}

// Client инкапсулирует HTTP-взаимодействие с сервисом рекомендаций.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент сервиса рекомендаций по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetSuggestions запрашивает рекомендации для пользователя. Любая ошибка
// деградирует до статического набора: рекомендации не критичны для заказа.
func (c *Client) GetSuggestions(ctx context.Context, userID string) []Suggestion {
	if c == nil || c.baseURL == "" {
		return Fallback()
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/suggest-orders", base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Fallback()
	}
	req.Header.Set("Authorization", "Bearer "+userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Fallback()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Fallback()
	}

	var result struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Fallback()
	}

	if len(result.Suggestions) == 0 {
		return Fallback()
	}

	return result.Suggestions
}
