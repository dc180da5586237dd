package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mmeshcher/canteen-system/internal/cart"
	"github.com/mmeshcher/canteen-system/internal/model"
	"github.com/mmeshcher/canteen-system/internal/payment"
	"github.com/mmeshcher/canteen-system/internal/repository"
)

type stubRepo struct {
	users         map[string]*model.User
	menu          map[string]model.MenuItem
	orders        map[string]*model.Order
	queue         int64
	notifications []model.Notification

	createOrderErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:  make(map[string]*model.User),
		menu:   make(map[string]model.MenuItem),
		orders: make(map[string]*model.Order),
	}
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, email, fullName string, role model.Role, passwordHash []byte) (string, error) {
	for _, u := range s.users {
		if u.Email == email {
			return "", repository.ErrUserExists
		}
	}
	id := fmt.Sprintf("user-%d", len(s.users)+1)
	s.users[id] = &model.User{ID: id, Email: email, FullName: fullName, Role: role, PasswordHash: passwordHash}
	return id, nil
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (s *stubRepo) GetMenuItems(ctx context.Context, category string) ([]model.MenuItem, error) {
	var items []model.MenuItem
	for _, item := range s.menu {
		if item.Available && (category == "" || item.Category == category) {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *stubRepo) GetSpecialItems(ctx context.Context, limit int) ([]model.MenuItem, error) {
	items, _ := s.GetMenuItems(ctx, "")
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *stubRepo) GetMenuItem(ctx context.Context, id string) (*model.MenuItem, error) {
	item, ok := s.menu[id]
	if !ok {
		return nil, repository.ErrMenuItemNotFound
	}
	return &item, nil
}

func (s *stubRepo) GetMenuItemsByIDs(ctx context.Context, ids []string) (map[string]model.MenuItem, error) {
	out := make(map[string]model.MenuItem)
	for _, id := range ids {
		if item, ok := s.menu[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (s *stubRepo) CreateMenuItem(ctx context.Context, item model.MenuItem) (string, error) {
	id := fmt.Sprintf("item-%d", len(s.menu)+1)
	item.ID = id
	s.menu[id] = item
	return id, nil
}

func (s *stubRepo) SetMenuItemAvailability(ctx context.Context, id string, available bool) error {
	item, ok := s.menu[id]
	if !ok {
		return repository.ErrMenuItemNotFound
	}
	item.Available = available
	s.menu[id] = item
	return nil
}

func (s *stubRepo) CreateOrder(ctx context.Context, order *model.Order) error {
	if s.createOrderErr != nil {
		return s.createOrderErr
	}
	s.queue++
	order.ID = fmt.Sprintf("order-%d", s.queue)
	order.QueueNumber = s.queue
	s.orders[order.ID] = order
	return nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *stubRepo) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubRepo) GetActiveOrder(ctx context.Context, userID string) (*model.Order, error) {
	for _, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		switch o.Status {
		case model.OrderStatusPending, model.OrderStatusPreparing, model.OrderStatusReady:
			copied := *o
			return &copied, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (s *stubRepo) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) error {
	order, ok := s.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if order.Status != from {
		return repository.ErrInvalidTransition
	}
	order.Status = to
	return nil
}

func (s *stubRepo) UpdatePaymentStatus(ctx context.Context, orderID string, paymentStatus model.PaymentStatus, status model.OrderStatus) error {
	order, ok := s.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if order.PaymentStatus != model.PaymentStatusPending {
		return repository.ErrPaymentNotPending
	}
	order.PaymentStatus = paymentStatus
	order.Status = status
	return nil
}

func (s *stubRepo) CreateNotification(ctx context.Context, n *model.Notification) error {
	n.ID = int64(len(s.notifications) + 1)
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *stubRepo) GetNotificationsByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	var out []model.Notification
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notifications[i].UserID == userID {
			out = append(out, s.notifications[i])
		}
	}
	return out, nil
}

type stubVerifier struct {
	result bool
	err    error
	calls  int
}

func (v *stubVerifier) Verify(ctx context.Context, orderID string) (bool, error) {
	v.calls++
	return v.result, v.err
}

type stubPublisher struct {
	events []model.OrderEvent
}

func (p *stubPublisher) Publish(ev model.OrderEvent) {
	p.events = append(p.events, ev)
}

func newTestService(repo *stubRepo, verifier PaymentVerifier, publisher EventPublisher) *Service {
	return NewService(Deps{
		Repo:      repo,
		Carts:     cart.NewStore(),
		Verifier:  verifier,
		Publisher: publisher,
		Links:     payment.NewLinkBuilder("canteen@upi", "Campus Canteen"),
	})
}

func seedMenu(repo *stubRepo) (burgerID, friesID string) {
	burgerID, _ = repo.CreateMenuItem(context.Background(), model.MenuItem{
		Name: "Veg Burger", Price: 100, Category: "snacks", PreparationTime: 10, Available: true,
	})
	friesID, _ = repo.CreateMenuItem(context.Background(), model.MenuItem{
		Name: "French Fries", Price: 50, Category: "snacks", PreparationTime: 5, Available: true,
	})
	return burgerID, friesID
}

func TestRegisterUserValidation(t *testing.T) {
	svc := newTestService(newStubRepo(), nil, nil)
	ctx := context.Background()

	if _, err := svc.RegisterUser(ctx, "not-an-email", "secret1", "Test", model.RoleStudent); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "a@b.com", "short", "Test", model.RoleStudent); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for short password, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "a@b.com", "secret1", "Test", model.Role("admin")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	u, err := svc.RegisterUser(ctx, "Student@Example.COM", "secret1", "Student One", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Role != model.RoleStudent {
		t.Fatalf("default role = %q, want %q", u.Role, model.RoleStudent)
	}
	if u.Email != "student@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}

	got, err := svc.AuthenticateUser(ctx, "student@example.com", "secret1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("authenticated id = %q, want %q", got.ID, u.ID)
	}

	if _, err := svc.AuthenticateUser(ctx, "student@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.AuthenticateUser(ctx, "nobody@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestAddToCartUnavailableItem(t *testing.T) {
	repo := newStubRepo()
	burgerID, _ := seedMenu(repo)
	_ = repo.SetMenuItemAvailability(context.Background(), burgerID, false)

	svc := newTestService(repo, nil, nil)

	if err := svc.AddToCart(context.Background(), "user-1", burgerID); !errors.Is(err, ErrMenuItemUnavailable) {
		t.Fatalf("expected ErrMenuItemUnavailable, got %v", err)
	}
}

func TestCheckout(t *testing.T) {
	repo := newStubRepo()
	burgerID, friesID := seedMenu(repo)
	publisher := &stubPublisher{}
	svc := newTestService(repo, nil, publisher)
	ctx := context.Background()

	if err := svc.AddToCart(ctx, "user-1", burgerID); err != nil {
		t.Fatalf("add burger: %v", err)
	}
	if err := svc.AddToCart(ctx, "user-1", burgerID); err != nil {
		t.Fatalf("add burger again: %v", err)
	}
	if err := svc.AddToCart(ctx, "user-1", friesID); err != nil {
		t.Fatalf("add fries: %v", err)
	}

	order, link, err := svc.Checkout(ctx, "user-1", model.PaymentMethodOnline, "no onions", "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if order.TotalAmount != 250 {
		t.Errorf("total = %v, want 250", order.TotalAmount)
	}
	if order.ETAMinutes != 15 {
		t.Errorf("eta = %d, want 15 (max prep 10 + buffer 5)", order.ETAMinutes)
	}
	if order.QueueNumber != 1 {
		t.Errorf("queue number = %d, want 1", order.QueueNumber)
	}
	if len(order.Items) != 2 {
		t.Errorf("items = %d, want 2", len(order.Items))
	}
	if !strings.HasPrefix(link, "upi://pay?") {
		t.Errorf("payment link = %q, want upi://pay URI", link)
	}

	if entries, _, _ := svc.GetCart("user-1"); len(entries) != 0 {
		t.Errorf("cart not cleared after checkout: %d entries", len(entries))
	}

	notes, _ := svc.Notifications(ctx, "user-1")
	if len(notes) != 1 || notes[0].Title != "Order Placed" {
		t.Errorf("expected one Order Placed notification, got %+v", notes)
	}
	if len(publisher.events) != 1 || publisher.events[0].OrderID != order.ID {
		t.Errorf("expected one published event for %q, got %+v", order.ID, publisher.events)
	}

	// Второй заказ получает следующий номер очереди.
	if err := svc.AddToCart(ctx, "user-2", friesID); err != nil {
		t.Fatalf("add fries for second user: %v", err)
	}
	second, _, err := svc.Checkout(ctx, "user-2", model.PaymentMethodCounter, "", "")
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if second.QueueNumber != 2 {
		t.Errorf("second queue number = %d, want 2", second.QueueNumber)
	}
	if second.ETAMinutes != 10 {
		t.Errorf("second eta = %d, want 10", second.ETAMinutes)
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc := newTestService(newStubRepo(), nil, nil)

	if _, _, err := svc.Checkout(context.Background(), "user-1", model.PaymentMethodOnline, "", ""); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCheckoutInvalidInput(t *testing.T) {
	repo := newStubRepo()
	burgerID, _ := seedMenu(repo)
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	if err := svc.AddToCart(ctx, "user-1", burgerID); err != nil {
		t.Fatalf("add burger: %v", err)
	}

	if _, _, err := svc.Checkout(ctx, "user-1", model.PaymentMethod("card"), "", ""); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got %v", err)
	}
	if _, _, err := svc.Checkout(ctx, "user-1", model.PaymentMethodCounter, "", "25:99"); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}

	// Некорректный ввод не должен очищать корзину.
	if entries, _, _ := svc.GetCart("user-1"); len(entries) != 1 {
		t.Fatalf("cart entries = %d, want 1", len(entries))
	}
}

func TestCheckoutItemWentUnavailable(t *testing.T) {
	repo := newStubRepo()
	burgerID, _ := seedMenu(repo)
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	if err := svc.AddToCart(ctx, "user-1", burgerID); err != nil {
		t.Fatalf("add burger: %v", err)
	}

	// Позиция закончилась между добавлением в корзину и оформлением.
	_ = repo.SetMenuItemAvailability(ctx, burgerID, false)

	if _, _, err := svc.Checkout(ctx, "user-1", model.PaymentMethodCounter, "", ""); !errors.Is(err, ErrMenuItemUnavailable) {
		t.Fatalf("expected ErrMenuItemUnavailable, got %v", err)
	}
}

func placeOrder(t *testing.T, svc *Service, repo *stubRepo, userID string, method model.PaymentMethod) *model.Order {
	t.Helper()

	burgerID, _ := seedMenu(repo)
	if err := svc.AddToCart(context.Background(), userID, burgerID); err != nil {
		t.Fatalf("add to cart: %v", err)
	}
	order, _, err := svc.Checkout(context.Background(), userID, method, "", "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return order
}

func TestVerifyPaymentSuccess(t *testing.T) {
	repo := newStubRepo()
	verifier := &stubVerifier{result: true}
	publisher := &stubPublisher{}
	svc := newTestService(repo, verifier, publisher)

	order := placeOrder(t, svc, repo, "user-1", model.PaymentMethodOnline)

	updated, err := svc.VerifyPayment(context.Background(), "user-1", order.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if updated.PaymentStatus != model.PaymentStatusCompleted {
		t.Errorf("payment status = %q, want completed", updated.PaymentStatus)
	}
	if updated.Status != model.OrderStatusPending {
		t.Errorf("order status = %q, want pending", updated.Status)
	}

	// Повторное подтверждение уже решённой оплаты отклоняется.
	if _, err := svc.VerifyPayment(context.Background(), "user-1", order.ID); !errors.Is(err, repository.ErrPaymentNotPending) {
		t.Fatalf("expected ErrPaymentNotPending on repeat, got %v", err)
	}
	if verifier.calls != 1 {
		t.Errorf("verifier called %d times, want 1", verifier.calls)
	}
}

func TestVerifyPaymentFailure(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, &stubVerifier{result: false}, nil)

	order := placeOrder(t, svc, repo, "user-1", model.PaymentMethodOnline)

	updated, err := svc.VerifyPayment(context.Background(), "user-1", order.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if updated.PaymentStatus != model.PaymentStatusFailed {
		t.Errorf("payment status = %q, want failed", updated.PaymentStatus)
	}
	if updated.Status != model.OrderStatusCancelled {
		t.Errorf("order status = %q, want cancelled", updated.Status)
	}

	notes, _ := svc.Notifications(context.Background(), "user-1")
	if len(notes) == 0 || notes[0].Title != "Payment Failed" {
		t.Errorf("expected Payment Failed notification, got %+v", notes)
	}
}

func TestVerifyPaymentCounterOrder(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, &stubVerifier{result: true}, nil)

	order := placeOrder(t, svc, repo, "user-1", model.PaymentMethodCounter)

	if _, err := svc.VerifyPayment(context.Background(), "user-1", order.ID); !errors.Is(err, ErrPaymentNotOnline) {
		t.Fatalf("expected ErrPaymentNotOnline, got %v", err)
	}
}

func TestUpdateOrderStatusTransitions(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	order := placeOrder(t, svc, repo, "user-1", model.PaymentMethodCounter)

	// pending -> ready пропускает preparing и отклоняется.
	if _, err := svc.UpdateOrderStatus(ctx, order.ID, model.OrderStatusReady); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	for _, next := range []model.OrderStatus{
		model.OrderStatusPreparing,
		model.OrderStatusReady,
		model.OrderStatusCompleted,
	} {
		updated, err := svc.UpdateOrderStatus(ctx, order.ID, next)
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if updated.Status != next {
			t.Fatalf("status = %q, want %q", updated.Status, next)
		}
	}

	// Завершённый заказ больше не меняется.
	if _, err := svc.UpdateOrderStatus(ctx, order.ID, model.OrderStatusCancelled); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for completed order, got %v", err)
	}
}

func TestUpdateOrderStatusRefusesCancellingPaidOrder(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, &stubVerifier{result: true}, nil)
	ctx := context.Background()

	order := placeOrder(t, svc, repo, "user-1", model.PaymentMethodOnline)
	if _, err := svc.VerifyPayment(ctx, "user-1", order.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := svc.UpdateOrderStatus(ctx, order.ID, model.OrderStatusCancelled); !errors.Is(err, ErrOrderPaid) {
		t.Fatalf("expected ErrOrderPaid, got %v", err)
	}
}

func TestOrderByIDHidesForeignOrders(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, nil, nil)

	order := placeOrder(t, svc, repo, "user-1", model.PaymentMethodCounter)

	if _, err := svc.OrderByID(context.Background(), "user-2", order.ID); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order, got %v", err)
	}
}

func TestSuggestionsFallbackWithoutClient(t *testing.T) {
	svc := newTestService(newStubRepo(), nil, nil)

	got := svc.Suggestions(context.Background(), "user-1")
	if len(got) != 3 {
		t.Fatalf("fallback suggestions = %d, want 3", len(got))
	}
}

func TestReceiptForOwnOrder(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, nil, nil)

	order := placeOrder(t, svc, repo, "user-1", model.PaymentMethodCounter)

	data, err := svc.Receipt(context.Background(), "user-1", order.ID)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Fatal("receipt is not a PDF")
	}

	if _, err := svc.Receipt(context.Background(), "user-2", order.ID); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign receipt, got %v", err)
	}
}
