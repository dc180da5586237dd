// Package handler содержит HTTP-обработчики API сервиса столовой.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/canteen-system/internal/cart"
	"github.com/mmeshcher/canteen-system/internal/middleware"
	"github.com/mmeshcher/canteen-system/internal/model"
	"github.com/mmeshcher/canteen-system/internal/realtime"
	"github.com/mmeshcher/canteen-system/internal/repository"
	"github.com/mmeshcher/canteen-system/internal/service"
	"github.com/mmeshcher/canteen-system/internal/suggest"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password, fullName string, role model.Role) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	UserByID(ctx context.Context, id string) (*model.User, error)
	Menu(ctx context.Context, category string) ([]model.MenuItem, error)
	SpecialItems(ctx context.Context) ([]model.MenuItem, error)
	CreateMenuItem(ctx context.Context, item model.MenuItem) (string, error)
	SetMenuItemAvailability(ctx context.Context, id string, available bool) error
	AddToCart(ctx context.Context, userID, itemID string) error
	UpdateCartQuantity(userID, itemID string, delta int)
	RemoveFromCart(userID, itemID string)
	GetCart(userID string) ([]cart.Entry, float64, int)
	ClearCart(userID string)
	Checkout(ctx context.Context, userID string, method model.PaymentMethod, notes, scheduled string) (*model.Order, string, error)
	PaymentLink(ctx context.Context, userID, orderID string) (string, error)
	PaymentQR(ctx context.Context, userID, orderID string) ([]byte, error)
	VerifyPayment(ctx context.Context, userID, orderID string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	ActiveOrder(ctx context.Context, userID string) (*model.Order, error)
	OrderByID(ctx context.Context, userID, orderID string) (*model.Order, error)
	AllOrders(ctx context.Context) ([]model.Order, error)
	Notifications(ctx context.Context, userID string) ([]model.Notification, error)
	Suggestions(ctx context.Context, userID string) []suggest.Suggestion
	Receipt(ctx context.Context, userID, orderID string) ([]byte, error)
}

// Handler реализует HTTP-обработчики API сервиса столовой.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	hub            *realtime.Hub
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, hub *realtime.Hub) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		hub:            hub,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: string(u.Role)}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req.Email, req.Password, req.FullName, model.Role(req.Role))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrInvalidEmail),
			errors.Is(err, service.ErrInvalidRole),
			errors.Is(err, service.ErrInvalidCredentials):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		default:
			h.logger.Error("register user error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	token, err := h.authMiddleware.SetAuthCookie(w, user.ID, user.Role)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, authResponse{Token: token, User: toUserResponse(user)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token, err := h.authMiddleware.SetAuthCookie(w, user.ID, user.Role)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, authResponse{Token: token, User: toUserResponse(user)})
}

// Logout сбрасывает cookie авторизации.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

// Me возвращает профиль текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	user, err := h.service.UserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("get user error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toUserResponse(user))
}

type menuItemResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Price           float64 `json:"price"`
	Category        string  `json:"category"`
	ImageURL        string  `json:"image_url,omitempty"`
	PreparationTime int     `json:"preparation_time"`
	Available       bool    `json:"available"`
}

func toMenuItemResponse(item model.MenuItem) menuItemResponse {
	return menuItemResponse{
		ID:              item.ID,
		Name:            item.Name,
		Description:     item.Description,
		Price:           item.Price,
		Category:        item.Category,
		ImageURL:        item.ImageURL,
		PreparationTime: item.PreparationTime,
		Available:       item.Available,
	}
}

// GetMenu возвращает доступные позиции меню, опционально по категории.
func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Menu(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.logger.Error("get menu error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]menuItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toMenuItemResponse(item))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetSpecialItems возвращает подборку позиций дня.
func (h *Handler) GetSpecialItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.SpecialItems(r.Context())
	if err != nil {
		h.logger.Error("get special items error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]menuItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toMenuItemResponse(item))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type createMenuItemRequest struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Price           float64 `json:"price"`
	Category        string  `json:"category"`
	ImageURL        string  `json:"image_url"`
	PreparationTime int     `json:"preparation_time"`
	Available       *bool   `json:"available"`
}

// CreateMenuItem добавляет позицию меню. Доступно работнику столовой.
func (h *Handler) CreateMenuItem(w http.ResponseWriter, r *http.Request) {
	var req createMenuItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Category == "" || req.Price < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	available := true
	if req.Available != nil {
		available = *req.Available
	}

	id, err := h.service.CreateMenuItem(r.Context(), model.MenuItem{
		Name:            req.Name,
		Description:     req.Description,
		Price:           req.Price,
		Category:        req.Category,
		ImageURL:        req.ImageURL,
		PreparationTime: req.PreparationTime,
		Available:       available,
	})
	if err != nil {
		h.logger.Error("create menu item error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

// SetMenuItemAvailability переключает доступность позиции меню.
func (h *Handler) SetMenuItemAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.SetMenuItemAvailability(r.Context(), id, req.Available); err != nil {
		if errors.Is(err, repository.ErrMenuItemNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("set availability error", zap.Error(err), zap.String("itemID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type cartItemResponse struct {
	Item     menuItemResponse `json:"item"`
	Quantity int              `json:"quantity"`
}

type cartResponse struct {
	Items              []cartItemResponse `json:"items"`
	Total              float64            `json:"total"`
	MaxPreparationTime int                `json:"max_preparation_time"`
}

func (h *Handler) cartResponseFor(userID string) cartResponse {
	entries, total, maxPrep := h.service.GetCart(userID)
	resp := cartResponse{
		Items:              make([]cartItemResponse, 0, len(entries)),
		Total:              total,
		MaxPreparationTime: maxPrep,
	}
	for _, e := range entries {
		resp.Items = append(resp.Items, cartItemResponse{Item: toMenuItemResponse(e.Item), Quantity: e.Quantity})
	}
	return resp
}

// GetCart возвращает корзину текущего пользователя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.writeJSON(w, http.StatusOK, h.cartResponseFor(userID))
}

type addCartItemRequest struct {
	MenuItemID string `json:"menu_item_id"`
}

// AddCartItem добавляет позицию меню в корзину.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MenuItemID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AddToCart(r.Context(), userID, req.MenuItemID); err != nil {
		switch {
		case errors.Is(err, repository.ErrMenuItemNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrMenuItemUnavailable):
			http.Error(w, "menu item is unavailable", http.StatusConflict)
		default:
			h.logger.Error("add cart item error", zap.Error(err), zap.String("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, h.cartResponseFor(userID))
}

type updateCartItemRequest struct {
	Delta int `json:"delta"`
}

// UpdateCartItem изменяет количество позиции корзины на delta.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req updateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Delta == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.service.UpdateCartQuantity(userID, chi.URLParam(r, "id"), req.Delta)
	h.writeJSON(w, http.StatusOK, h.cartResponseFor(userID))
}

// RemoveCartItem удаляет позицию из корзины.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.service.RemoveFromCart(userID, chi.URLParam(r, "id"))
	h.writeJSON(w, http.StatusOK, h.cartResponseFor(userID))
}

type orderItemResponse struct {
	MenuItemID string  `json:"menu_item_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	Items         []orderItemResponse `json:"items"`
	TotalAmount   float64             `json:"total_amount"`
	PaymentMethod string              `json:"payment_method"`
	PaymentStatus string              `json:"payment_status"`
	Status        string              `json:"status"`
	QueueNumber   int64               `json:"queue_number"`
	ETAMinutes    int                 `json:"eta_minutes"`
	Notes         string              `json:"notes,omitempty"`
	ScheduledAt   *string             `json:"scheduled_at,omitempty"`
	CreatedAt     string              `json:"created_at"`
	CustomerName  string              `json:"customer_name,omitempty"`
	CustomerEmail string              `json:"customer_email,omitempty"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		Items:         make([]orderItemResponse, 0, len(o.Items)),
		TotalAmount:   o.TotalAmount,
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		Status:        string(o.Status),
		QueueNumber:   o.QueueNumber,
		ETAMinutes:    o.ETAMinutes,
		Notes:         o.Notes,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
	}
	if o.ScheduledAt != nil {
		s := o.ScheduledAt.Format(time.RFC3339)
		resp.ScheduledAt = &s
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			MenuItemID: item.MenuItemID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			Price:      item.Price,
		})
	}
	return resp
}

type checkoutRequest struct {
	PaymentMethod string `json:"payment_method"`
	Notes         string `json:"notes"`
	ScheduledTime string `json:"scheduled_time"`
}

type checkoutResponse struct {
	Order       orderResponse `json:"order"`
	PaymentLink string        `json:"payment_link,omitempty"`
}

// Checkout оформляет заказ из корзины текущего пользователя.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, link, err := h.service.Checkout(r.Context(), userID, model.PaymentMethod(req.PaymentMethod), req.Notes, req.ScheduledTime)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyCart),
			errors.Is(err, service.ErrInvalidPaymentMethod),
			errors.Is(err, service.ErrInvalidSchedule):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrMenuItemUnavailable):
			http.Error(w, "menu item is unavailable", http.StatusConflict)
		default:
			h.logger.Error("checkout error", zap.Error(err), zap.String("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, checkoutResponse{Order: toOrderResponse(order), PaymentLink: link})
}

// GetOrders возвращает историю заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.OrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetActiveOrder возвращает текущий незавершённый заказ пользователя.
func (h *Handler) GetActiveOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	order, err := h.service.ActiveOrder(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error("get active order error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// GetOrder возвращает заказ текущего пользователя по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	order, err := h.service.OrderByID(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// VerifyPayment подтверждает оплату заказа и возвращает его новое состояние.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "id")
	order, err := h.service.VerifyPayment(r.Context(), userID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrPaymentNotOnline),
			errors.Is(err, repository.ErrPaymentNotPending):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, service.ErrVerificationInProgress):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		default:
			h.logger.Error("verify payment error", zap.Error(err), zap.String("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// GetPaymentLink возвращает UPI-ссылку для оплаты заказа.
func (h *Handler) GetPaymentLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	link, err := h.service.PaymentLink(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"payment_link": link})
}

// GetPaymentQR возвращает PNG с QR-кодом оплаты заказа.
func (h *Handler) GetPaymentQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	png, err := h.service.PaymentQR(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrPaymentNotOnline),
		errors.Is(err, repository.ErrPaymentNotPending):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("payment request error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// GetReceipt возвращает PDF-квитанцию заказа.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	pdf, err := h.service.Receipt(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("receipt error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=receipt.pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// GetAllOrders возвращает все заказы для панели столовой.
func (h *Handler) GetAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.AllOrders(r.Context())
	if err != nil {
		h.logger.Error("get all orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус. Доступно работнику столовой.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orderID := chi.URLParam(r, "id")
	order, err := h.service.UpdateOrderStatus(r.Context(), orderID, model.OrderStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInvalidTransition),
			errors.Is(err, service.ErrOrderPaid):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("update order status error", zap.Error(err), zap.String("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type notificationResponse struct {
	ID        int64  `json:"id"`
	OrderID   string `json:"order_id,omitempty"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// GetNotifications возвращает последние уведомления пользователя.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	notifications, err := h.service.Notifications(r.Context(), userID)
	if err != nil {
		h.logger.Error("get notifications error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:        n.ID,
			OrderID:   n.OrderID,
			Title:     n.Title,
			Message:   n.Message,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetSuggestions возвращает рекомендации для пользователя.
func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.writeJSON(w, http.StatusOK, h.service.Suggestions(r.Context(), userID))
}

// ServeOrderEvents подключает клиента к websocket-рассылке событий заказов.
func (h *Handler) ServeOrderEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	role, _ := middleware.GetRoleFromContext(r.Context())
	h.hub.ServeWS(w, r, userID, role == model.RoleCanteenWorker)
}
