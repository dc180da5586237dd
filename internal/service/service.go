// Package service реализует бизнес-логику сервиса столовой.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/canteen-system/internal/cache"
	"github.com/mmeshcher/canteen-system/internal/cart"
	"github.com/mmeshcher/canteen-system/internal/model"
	"github.com/mmeshcher/canteen-system/internal/payment"
	"github.com/mmeshcher/canteen-system/internal/receipt"
	"github.com/mmeshcher/canteen-system/internal/repository"
	"github.com/mmeshcher/canteen-system/internal/suggest"
	"github.com/mmeshcher/canteen-system/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверной почте или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidEmail возвращается при некорректном адресе почты.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidRole возвращается при неизвестной роли пользователя.
	ErrInvalidRole = errors.New("invalid role")
	// ErrEmptyCart возвращается при оформлении заказа с пустой корзиной.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidPaymentMethod возвращается при неизвестном способе оплаты.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrInvalidSchedule возвращается при некорректном времени выдачи заказа.
	ErrInvalidSchedule = errors.New("invalid scheduled time")
	// ErrMenuItemUnavailable возвращается при добавлении недоступной позиции.
	ErrMenuItemUnavailable = errors.New("menu item is unavailable")
	// ErrVerificationInProgress возвращается, если подтверждение оплаты заказа уже выполняется.
	ErrVerificationInProgress = errors.New("payment verification already in progress")
	// ErrPaymentNotOnline возвращается при запросе оплаты для заказа с оплатой на кассе.
	ErrPaymentNotOnline = errors.New("order is not paid online")
	// ErrOrderPaid возвращается при попытке отменить уже оплаченный заказ.
	ErrOrderPaid = errors.New("paid order cannot be cancelled")
)

const (
	menuCacheTTL  = time.Minute
	verifyLockTTL = 30 * time.Second

	// Запас на выдачу сверх самого долгого блюда заказа.
	etaBufferMinutes = 5

	specialItemsCount = 4
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, email, fullName string, role model.Role, passwordHash []byte) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetMenuItems(ctx context.Context, category string) ([]model.MenuItem, error)
	GetSpecialItems(ctx context.Context, limit int) ([]model.MenuItem, error)
	GetMenuItem(ctx context.Context, id string) (*model.MenuItem, error)
	GetMenuItemsByIDs(ctx context.Context, ids []string) (map[string]model.MenuItem, error)
	CreateMenuItem(ctx context.Context, item model.MenuItem) (string, error)
	SetMenuItemAvailability(ctx context.Context, id string, available bool) error
	CreateOrder(ctx context.Context, order *model.Order) error
	GetOrderByID(ctx context.Context, id string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	GetActiveOrder(ctx context.Context, userID string) (*model.Order, error)
	GetAllOrders(ctx context.Context) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) error
	UpdatePaymentStatus(ctx context.Context, orderID string, paymentStatus model.PaymentStatus, status model.OrderStatus) error
	CreateNotification(ctx context.Context, n *model.Notification) error
	GetNotificationsByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error)
}

// PaymentVerifier описывает контракт подтверждения оплаты.
type PaymentVerifier interface {
	Verify(ctx context.Context, orderID string) (bool, error)
}

// EventPublisher описывает контракт рассылки событий заказов.
type EventPublisher interface {
	Publish(ev model.OrderEvent)
}

// Deps содержит зависимости сервиса. Cache, Verifier, Publisher, Links и
// Suggest необязательны: без них соответствующие возможности отключаются.
type Deps struct {
	Repo      Repository
	Cache     *cache.Cache
	Carts     *cart.Store
	Verifier  PaymentVerifier
	Publisher EventPublisher
	Links     *payment.LinkBuilder
	Suggest   *suggest.Client
}

// Service содержит бизнес-логику сервиса столовой.
type Service struct {
	repo      Repository
	cache     *cache.Cache
	carts     *cart.Store
	verifier  PaymentVerifier
	publisher EventPublisher
	links     *payment.LinkBuilder
	suggest   *suggest.Client
}

// NewService создаёт новый сервис с указанными зависимостями.
func NewService(deps Deps) *Service {
	carts := deps.Carts
	if carts == nil {
		carts = cart.NewStore()
	}

	return &Service{
		repo:      deps.Repo,
		cache:     deps.Cache,
		carts:     carts,
		verifier:  deps.Verifier,
		publisher: deps.Publisher,
		links:     deps.Links,
		suggest:   deps.Suggest,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя и возвращает его профиль.
func (s *Service) RegisterUser(ctx context.Context, email, password, fullName string, role model.Role) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if !validation.IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(password) < 6 {
		return nil, ErrInvalidCredentials
	}
	if role == "" {
		role = model.RoleStudent
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, email, fullName, role, hashed)
	if err != nil {
		return nil, err
	}

	return &model.User{ID: id, Email: email, FullName: fullName, Role: role}, nil
}

// AuthenticateUser проверяет почту и пароль и возвращает профиль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// UserByID возвращает профиль пользователя по идентификатору.
func (s *Service) UserByID(ctx context.Context, id string) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// Menu возвращает доступные позиции меню, при необходимости по категории.
// Список кэшируется на короткое время.
func (s *Service) Menu(ctx context.Context, category string) ([]model.MenuItem, error) {
	if items, ok := s.cache.GetMenu(ctx, category); ok {
		return items, nil
	}

	items, err := s.repo.GetMenuItems(ctx, category)
	if err != nil {
		return nil, err
	}

	s.cache.SetMenu(ctx, category, items, menuCacheTTL)
	return items, nil
}

// SpecialItems возвращает подборку позиций дня.
func (s *Service) SpecialItems(ctx context.Context) ([]model.MenuItem, error) {
	return s.repo.GetSpecialItems(ctx, specialItemsCount)
}

// CreateMenuItem добавляет позицию меню и сбрасывает кэш.
func (s *Service) CreateMenuItem(ctx context.Context, item model.MenuItem) (string, error) {
	id, err := s.repo.CreateMenuItem(ctx, item)
	if err != nil {
		return "", err
	}

	s.cache.InvalidateMenu(ctx)
	return id, nil
}

// SetMenuItemAvailability переключает доступность позиции меню и сбрасывает кэш.
func (s *Service) SetMenuItemAvailability(ctx context.Context, id string, available bool) error {
	if err := s.repo.SetMenuItemAvailability(ctx, id, available); err != nil {
		return err
	}

	s.cache.InvalidateMenu(ctx)
	return nil
}

// AddToCart добавляет позицию меню в корзину пользователя.
func (s *Service) AddToCart(ctx context.Context, userID, itemID string) error {
	item, err := s.repo.GetMenuItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !item.Available {
		return ErrMenuItemUnavailable
	}

	s.carts.Add(userID, *item)
	return nil
}

// UpdateCartQuantity изменяет количество позиции в корзине на delta.
// Количество не опускается ниже нуля: нулевое количество удаляет позицию.
func (s *Service) UpdateCartQuantity(userID, itemID string, delta int) {
	s.carts.UpdateQuantity(userID, itemID, delta)
}

// RemoveFromCart удаляет позицию из корзины пользователя.
func (s *Service) RemoveFromCart(userID, itemID string) {
	s.carts.Remove(userID, itemID)
}

// GetCart возвращает содержимое корзины, её сумму и максимальное время приготовления.
func (s *Service) GetCart(userID string) ([]cart.Entry, float64, int) {
	return s.carts.Summary(userID)
}

// ClearCart очищает корзину пользователя.
func (s *Service) ClearCart(userID string) {
	s.carts.Clear(userID)
}

// Checkout оформляет заказ из корзины пользователя. Цены и сумма
// пересчитываются по каталогу, клиентским значениям сервис не доверяет.
// Для онлайн-оплаты возвращается UPI-ссылка.
func (s *Service) Checkout(ctx context.Context, userID string, method model.PaymentMethod, notes, scheduled string) (*model.Order, string, error) {
	if !method.Valid() {
		return nil, "", ErrInvalidPaymentMethod
	}

	entries, _, _ := s.carts.Summary(userID)
	if len(entries) == 0 {
		return nil, "", ErrEmptyCart
	}

	scheduledAt, err := validation.ParseScheduledTime(scheduled, time.Now())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidSchedule, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Item.ID)
	}

	catalog, err := s.repo.GetMenuItemsByIDs(ctx, ids)
	if err != nil {
		return nil, "", err
	}

	var total float64
	var maxPrep int
	items := make([]model.OrderItem, 0, len(entries))
	for _, e := range entries {
		current, ok := catalog[e.Item.ID]
		if !ok || !current.Available {
			return nil, "", ErrMenuItemUnavailable
		}

		total += current.Price * float64(e.Quantity)
		if current.PreparationTime > maxPrep {
			maxPrep = current.PreparationTime
		}

		items = append(items, model.OrderItem{
			MenuItemID: current.ID,
			Name:       current.Name,
			Quantity:   e.Quantity,
			Price:      current.Price,
		})
	}

	order := &model.Order{
		UserID:        userID,
		Items:         items,
		TotalAmount:   total,
		PaymentMethod: method,
		PaymentStatus: model.PaymentStatusPending,
		Status:        model.OrderStatusPending,
		ETAMinutes:    maxPrep + etaBufferMinutes,
		Notes:         notes,
		ScheduledAt:   scheduledAt,
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, "", err
	}

	s.carts.Clear(userID)

	s.notify(ctx, order, "Order Placed",
		fmt.Sprintf("Your order #%d has been placed successfully!", order.QueueNumber))
	s.publish(order)

	var link string
	if method == model.PaymentMethodOnline && s.links != nil {
		link = s.links.Link(order.ID, order.TotalAmount, paymentNote(order))
	}

	return order, link, nil
}

// PaymentLink возвращает UPI-ссылку для оплаты заказа.
func (s *Service) PaymentLink(ctx context.Context, userID, orderID string) (string, error) {
	order, err := s.payableOrder(ctx, userID, orderID)
	if err != nil {
		return "", err
	}
	return s.links.Link(order.ID, order.TotalAmount, paymentNote(order)), nil
}

// PaymentQR возвращает PNG с QR-кодом UPI-ссылки оплаты заказа.
func (s *Service) PaymentQR(ctx context.Context, userID, orderID string) ([]byte, error) {
	order, err := s.payableOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.links.QR(order.ID, order.TotalAmount, paymentNote(order))
}

func paymentNote(order *model.Order) string {
	return fmt.Sprintf("Canteen order #%d", order.QueueNumber)
}

func (s *Service) payableOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	if s.links == nil {
		return nil, ErrPaymentNotOnline
	}

	order, err := s.OrderByID(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != model.PaymentMethodOnline {
		return nil, ErrPaymentNotOnline
	}
	if order.PaymentStatus != model.PaymentStatusPending {
		return nil, repository.ErrPaymentNotPending
	}

	return order, nil
}

// VerifyPayment подтверждает оплату заказа у платёжного провайдера и
// обновляет заказ по результату. Успех переводит оплату в completed,
// отказ отменяет заказ. Повторный вызов для уже решённой оплаты
// возвращает repository.ErrPaymentNotPending.
func (s *Service) VerifyPayment(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := s.OrderByID(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != model.PaymentMethodOnline {
		return nil, ErrPaymentNotOnline
	}
	if order.PaymentStatus != model.PaymentStatusPending {
		return nil, repository.ErrPaymentNotPending
	}

	if !s.cache.AcquireVerifyLock(ctx, orderID, verifyLockTTL) {
		return nil, ErrVerificationInProgress
	}
	defer s.cache.ReleaseVerifyLock(ctx, orderID)

	ok, err := s.verifier.Verify(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if ok {
		err = s.repo.UpdatePaymentStatus(ctx, orderID, model.PaymentStatusCompleted, model.OrderStatusPending)
	} else {
		err = s.repo.UpdatePaymentStatus(ctx, orderID, model.PaymentStatusFailed, model.OrderStatusCancelled)
	}
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if ok {
		s.notify(ctx, updated, "Payment Successful", "Payment Successful! Order placed.")
	} else {
		s.notify(ctx, updated, "Payment Failed", "Payment Failed. Please retry.")
	}
	s.publish(updated)

	return updated, nil
}

// statusMessages содержит тексты уведомлений о смене статуса заказа.
var statusMessages = map[model.OrderStatus]string{
	model.OrderStatusPreparing: "Your order is being prepared!",
	model.OrderStatusReady:     "Your order is ready for pickup!",
	model.OrderStatusCompleted: "Order completed. Thank you!",
	model.OrderStatusCancelled: "Your order has been cancelled.",
}

// UpdateOrderStatus переводит заказ в новый статус. Допустимы только
// переходы pending -> preparing -> ready -> completed и отмена до
// готовности; оплаченный заказ отменить нельзя.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if to == model.OrderStatusCancelled && order.PaymentStatus == model.PaymentStatusCompleted {
		return nil, ErrOrderPaid
	}
	if !model.CanTransition(order.Status, to) {
		return nil, repository.ErrInvalidTransition
	}

	if err := s.repo.UpdateOrderStatus(ctx, orderID, order.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if msg, ok := statusMessages[to]; ok {
		title := "Order " + capitalize(string(to))
		s.notify(ctx, updated, title, fmt.Sprintf("%s Queue #%d", msg, updated.QueueNumber))
	}
	s.publish(updated)

	return updated, nil
}

// OrdersByUser возвращает историю заказов пользователя.
func (s *Service) OrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// ActiveOrder возвращает текущий незавершённый заказ пользователя.
// Если активного заказа нет, возвращается repository.ErrOrderNotFound.
func (s *Service) ActiveOrder(ctx context.Context, userID string) (*model.Order, error) {
	return s.repo.GetActiveOrder(ctx, userID)
}

// OrderByID возвращает заказ пользователя. Чужой заказ неотличим от
// несуществующего.
func (s *Service) OrderByID(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

// AllOrders возвращает все заказы для панели столовой.
func (s *Service) AllOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.GetAllOrders(ctx)
}

// Notifications возвращает последние уведомления пользователя.
func (s *Service) Notifications(ctx context.Context, userID string) ([]model.Notification, error) {
	return s.repo.GetNotificationsByUser(ctx, userID, 50)
}

// Suggestions возвращает рекомендации для пользователя.
func (s *Service) Suggestions(ctx context.Context, userID string) []suggest.Suggestion {
	if s.suggest == nil {
		return suggest.Fallback()
	}
	return s.suggest.GetSuggestions(ctx, userID)
}

// Receipt формирует PDF-квитанцию заказа пользователя.
func (s *Service) Receipt(ctx context.Context, userID, orderID string) ([]byte, error) {
	order, err := s.OrderByID(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return receipt.Generate(order)
}

// notify сохраняет уведомление пользователя. Ошибка записи не прерывает
// основную операцию.
func (s *Service) notify(ctx context.Context, order *model.Order, title, message string) {
	_ = s.repo.CreateNotification(ctx, &model.Notification{
		UserID:  order.UserID,
		OrderID: order.ID,
		Title:   title,
		Message: message,
	})
}

func (s *Service) publish(order *model.Order) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(model.OrderEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		QueueNumber:   order.QueueNumber,
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
