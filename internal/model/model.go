// Package model содержит доменные сущности сервиса столовой.
package model

import "time"

// Role определяет роль пользователя и доступные ему разделы сервиса.
type Role string

const (
	RoleStudent       Role = "student"
	RoleCanteenWorker Role = "canteen_worker"
)

// Valid сообщает, является ли значение известной ролью.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleCanteenWorker
}

// User представляет зарегистрированного пользователя столовой.
type User struct {
	ID           string
	Email        string
	FullName     string
	Role         Role
	PasswordHash []byte
	CreatedAt    time.Time
}

// MenuItem описывает позицию меню столовой.
type MenuItem struct {
	ID              string
	Name            string
	Description     string
	Price           float64
	Category        string
	ImageURL        string
	PreparationTime int
	Available       bool
}

// PaymentMethod определяет способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodOnline  PaymentMethod = "online"
	PaymentMethodCounter PaymentMethod = "counter"
)

// Valid сообщает, является ли значение известным способом оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodOnline || m == PaymentMethodCounter
}

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// OrderStatus описывает статус приготовления заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// allowedTransitions задаёт переходы статусов, доступные работнику столовой.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusCompleted},
}

// CanTransition сообщает, допустим ли переход статуса заказа from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OrderItem описывает позицию заказа с ценой на момент оформления.
type OrderItem struct {
	MenuItemID string
	Name       string
	Quantity   int
	Price      float64
}

// Order описывает заказ пользователя.
type Order struct {
	ID            string
	UserID        string
	Items         []OrderItem
	TotalAmount   float64
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Status        OrderStatus
	QueueNumber   int64
	ETAMinutes    int
	Notes         string
	ScheduledAt   *time.Time
	CreatedAt     time.Time

	// Заполняются только для панели столовой.
	CustomerName  string
	CustomerEmail string
}

// Notification описывает сохранённое уведомление пользователя о событии заказа.
type Notification struct {
	ID        int64
	UserID    string
	OrderID   string
	Title     string
	Message   string
	CreatedAt time.Time
}

// OrderEvent описывает событие изменения заказа для realtime-подписчиков.
// Событие несёт только идентификатор и статусы: клиент перечитывает список
// заказов целиком.
type OrderEvent struct {
	OrderID       string        `json:"order_id"`
	UserID        string        `json:"user_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	QueueNumber   int64         `json:"queue_number"`
}
