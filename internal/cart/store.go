package cart

import (
	"sync"

	"github.com/mmeshcher/canteen-system/internal/model"
)

// Store хранит корзины всех пользователей и сериализует доступ к ним.
type Store struct {
	mu    sync.Mutex
	carts map[string]*Cart
}

// NewStore создаёт пустое хранилище корзин.
func NewStore() *Store {
	return &Store{
		carts: make(map[string]*Cart),
	}
}

func (s *Store) cart(userID string) *Cart {
	c, ok := s.carts[userID]
	if !ok {
		c = New()
		s.carts[userID] = c
	}
	return c
}

// Add добавляет позицию меню в корзину пользователя.
func (s *Store) Add(userID string, item model.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart(userID).Add(item)
}

// UpdateQuantity изменяет количество позиции в корзине пользователя.
func (s *Store) UpdateQuantity(userID, itemID string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart(userID).UpdateQuantity(itemID, delta)
}

// Remove удаляет позицию из корзины пользователя.
func (s *Store) Remove(userID, itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart(userID).Remove(itemID)
}

// Items возвращает позиции корзины пользователя в порядке добавления.
func (s *Store) Items(userID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart(userID).Items()
}

// Summary возвращает позиции, сумму и максимальное время приготовления
// одним снимком, чтобы значения были согласованы между собой.
func (s *Store) Summary(userID string) ([]Entry, float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cart(userID)
	return c.Items(), c.Total(), c.MaxPreparationTime()
}

// Clear очищает корзину пользователя.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
}
