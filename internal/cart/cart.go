// Package cart реализует корзину покупателя, хранимую в памяти процесса.
// Корзина принадлежит текущей сессии пользователя и никогда не сохраняется
// в хранилище: успешное оформление заказа или явная очистка уничтожают её.
package cart

import "github.com/mmeshcher/canteen-system/internal/model"

// Entry описывает позицию корзины: позиция меню и её количество.
type Entry struct {
	Item     model.MenuItem
	Quantity int
}

// Cart содержит позиции корзины одного пользователя в порядке добавления.
// Cart не потокобезопасен: конкурентный доступ обеспечивает Store.
type Cart struct {
	entries map[string]*Entry
	order   []string
}

// New создаёт пустую корзину.
func New() *Cart {
	return &Cart{
		entries: make(map[string]*Entry),
	}
}

// Add добавляет позицию меню в корзину. Если позиция уже есть,
// её количество увеличивается на единицу.
func (c *Cart) Add(item model.MenuItem) {
	if e, ok := c.entries[item.ID]; ok {
		e.Quantity++
		return
	}
	c.entries[item.ID] = &Entry{Item: item, Quantity: 1}
	c.order = append(c.order, item.ID)
}

// UpdateQuantity изменяет количество позиции на delta. Количество не
// опускается ниже нуля; позиция с нулевым количеством удаляется.
func (c *Cart) UpdateQuantity(itemID string, delta int) {
	e, ok := c.entries[itemID]
	if !ok {
		return
	}

	e.Quantity += delta
	if e.Quantity <= 0 {
		c.removeFromOrder(itemID)
		delete(c.entries, itemID)
	}
}

// Remove безусловно удаляет позицию из корзины.
func (c *Cart) Remove(itemID string) {
	if _, ok := c.entries[itemID]; !ok {
		return
	}
	c.removeFromOrder(itemID)
	delete(c.entries, itemID)
}

func (c *Cart) removeFromOrder(itemID string) {
	for i, id := range c.order {
		if id == itemID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Items возвращает позиции корзины в порядке добавления.
func (c *Cart) Items() []Entry {
	items := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		items = append(items, *c.entries[id])
	}
	return items
}

// Total возвращает сумму корзины в рупиях.
func (c *Cart) Total() float64 {
	var total float64
	for _, e := range c.entries {
		total += e.Item.Price * float64(e.Quantity)
	}
	return total
}

// MaxPreparationTime возвращает максимальное время приготовления по позициям
// корзины в минутах. Берётся максимум, а не сумма: позиции готовятся
// параллельно. Для пустой корзины возвращается 0.
func (c *Cart) MaxPreparationTime() int {
	max := 0
	for _, e := range c.entries {
		if e.Item.PreparationTime > max {
			max = e.Item.PreparationTime
		}
	}
	return max
}

// Len возвращает число позиций в корзине.
func (c *Cart) Len() int {
	return len(c.entries)
}

// Clear удаляет все позиции корзины.
func (c *Cart) Clear() {
	c.entries = make(map[string]*Entry)
	c.order = nil
}
