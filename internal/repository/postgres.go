// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/canteen-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// queueLockID — ключ advisory-блокировки, сериализующей выдачу номеров очереди.
const queueLockID = 874219

// ErrUserExists возвращается при попытке создать пользователя с уже существующей почтой.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrMenuItemNotFound возвращается, если позиция меню не найдена.
	ErrMenuItemNotFound = errors.New("menu item not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса заказа.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrPaymentNotPending возвращается, если оплата заказа уже завершена или отклонена.
	ErrPaymentNotPending = errors.New("payment is not pending")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Ретраи полезны для Serialization Failure и Deadlocks.
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func toPaise(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func toRupees(paise int64) float64 {
	return float64(paise) / 100
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, email, fullName string, role model.Role, passwordHash []byte) (string, error) {
	id := uuid.NewString()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, email, full_name, role, password_hash) VALUES ($1, $2, $3, $4, $5)`,
		id, email, fullName, string(role), passwordHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return "", fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по адресу почты.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, full_name, role, password_hash, created_at FROM users WHERE email = $1`,
		email,
	)

	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, full_name, role, password_hash, created_at FROM users WHERE id = $1`,
		id,
	)

	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

const menuItemColumns = `id, name, COALESCE(description, ''), price, category, COALESCE(image_url, ''), preparation_time, available`

func scanMenuItem(row pgx.Row) (model.MenuItem, error) {
	var (
		item  model.MenuItem
		paise int64
	)
	err := row.Scan(&item.ID, &item.Name, &item.Description, &paise, &item.Category,
		&item.ImageURL, &item.PreparationTime, &item.Available)
	if err != nil {
		return model.MenuItem{}, err
	}
	item.Price = toRupees(paise)
	return item, nil
}

// GetMenuItems возвращает доступные позиции меню, упорядоченные по категории.
// Непустая category ограничивает выборку одной категорией.
func (r *PostgresRepository) GetMenuItems(ctx context.Context, category string) ([]model.MenuItem, error) {
	query := `SELECT ` + menuItemColumns + `
		 FROM menu_items
		 WHERE available
		 ORDER BY category, name`
	args := []any{}

	if category != "" {
		query = `SELECT ` + menuItemColumns + `
			 FROM menu_items
			 WHERE available AND category = $1
			 ORDER BY category, name`
		args = append(args, category)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select menu items: %w", err)
	}
	defer rows.Close()

	var items []model.MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// GetSpecialItems возвращает не более limit доступных позиций для блюда дня.
func (r *PostgresRepository) GetSpecialItems(ctx context.Context, limit int) ([]model.MenuItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+menuItemColumns+`
		 FROM menu_items
		 WHERE available
		 ORDER BY name
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select special items: %w", err)
	}
	defer rows.Close()

	var items []model.MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// GetMenuItem возвращает позицию меню по идентификатору.
func (r *PostgresRepository) GetMenuItem(ctx context.Context, id string) (*model.MenuItem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+menuItemColumns+` FROM menu_items WHERE id = $1`,
		id,
	)

	item, err := scanMenuItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMenuItemNotFound
		}
		return nil, fmt.Errorf("get menu item: %w", err)
	}

	return &item, nil
}

// GetMenuItemsByIDs возвращает позиции меню по списку идентификаторов.
func (r *PostgresRepository) GetMenuItemsByIDs(ctx context.Context, ids []string) (map[string]model.MenuItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+menuItemColumns+` FROM menu_items WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select menu items by ids: %w", err)
	}
	defer rows.Close()

	items := make(map[string]model.MenuItem, len(ids))
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items[item.ID] = item
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// CreateMenuItem создаёт позицию меню и возвращает её идентификатор.
func (r *PostgresRepository) CreateMenuItem(ctx context.Context, item model.MenuItem) (string, error) {
	id := uuid.NewString()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO menu_items (id, name, description, price, category, image_url, preparation_time, available)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, item.Name, item.Description, toPaise(item.Price), item.Category,
		item.ImageURL, item.PreparationTime, item.Available,
	)
	if err != nil {
		return "", fmt.Errorf("create menu item: %w", err)
	}

	return id, nil
}

// SetMenuItemAvailability включает или выключает позицию меню.
func (r *PostgresRepository) SetMenuItemAvailability(ctx context.Context, id string, available bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE menu_items SET available = $2 WHERE id = $1`,
		id, available,
	)
	if err != nil {
		return fmt.Errorf("update menu item: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrMenuItemNotFound
	}

	return nil
}

// CreateOrder сохраняет заказ вместе с позициями и присваивает ему номер
// очереди. Номер вычисляется как максимум существующих плюс один под
// advisory-блокировкой, поэтому параллельные оформления не получают дубликатов.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, queueLockID); err != nil {
			return fmt.Errorf("acquire queue lock: %w", err)
		}

		var queueNumber int64
		err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(queue_number), 0) + 1 FROM orders`).Scan(&queueNumber)
		if err != nil {
			return fmt.Errorf("next queue number: %w", err)
		}

		id := uuid.NewString()

		var notes *string
		if order.Notes != "" {
			notes = &order.Notes
		}

		var createdAt time.Time
		err = tx.QueryRow(ctx,
			`INSERT INTO orders (id, user_id, total_amount, payment_method, payment_status, status,
			                     queue_number, eta_minutes, notes, scheduled_time)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING created_at`,
			id, order.UserID, toPaise(order.TotalAmount), string(order.PaymentMethod),
			string(order.PaymentStatus), string(order.Status), queueNumber,
			order.ETAMinutes, notes, order.ScheduledAt,
		).Scan(&createdAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range order.Items {
			_, err := tx.Exec(ctx,
				`INSERT INTO order_items (order_id, menu_item_id, quantity, price) VALUES ($1, $2, $3, $4)`,
				id, item.MenuItemID, item.Quantity, toPaise(item.Price),
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		order.ID = id
		order.QueueNumber = queueNumber
		order.CreatedAt = createdAt
		return nil
	})
}

const orderColumns = `o.id, o.user_id, o.total_amount, o.payment_method, o.payment_status, o.status,
	o.queue_number, o.eta_minutes, COALESCE(o.notes, ''), o.scheduled_time, o.created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o             model.Order
		paise         int64
		method        string
		paymentStatus string
		status        string
	)
	err := row.Scan(&o.ID, &o.UserID, &paise, &method, &paymentStatus, &status,
		&o.QueueNumber, &o.ETAMinutes, &o.Notes, &o.ScheduledAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}

	o.TotalAmount = toRupees(paise)
	o.PaymentMethod = model.PaymentMethod(method)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func (r *PostgresRepository) loadOrderItems(ctx context.Context, orderIDs []string) (map[string][]model.OrderItem, error) {
	if len(orderIDs) == 0 {
		return map[string][]model.OrderItem{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT oi.order_id, oi.menu_item_id, mi.name, oi.quantity, oi.price
		 FROM order_items oi
		 JOIN menu_items mi ON mi.id = oi.menu_item_id
		 WHERE oi.order_id = ANY($1)
		 ORDER BY oi.id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]model.OrderItem)
	for rows.Next() {
		var (
			orderID string
			item    model.OrderItem
			paise   int64
		)
		if err := rows.Scan(&orderID, &item.MenuItemID, &item.Name, &item.Quantity, &paise); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.Price = toRupees(paise)
		items[orderID] = append(items[orderID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// GetOrderByID возвращает заказ вместе с позициями.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`,
		id,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.loadOrderItems(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return order, nil
}

// GetOrdersByUser возвращает историю заказов пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o
		 WHERE o.user_id = $1
		 ORDER BY o.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	var ids []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
		ids = append(ids, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	items, err := r.loadOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

// GetActiveOrder возвращает последний незавершённый заказ пользователя.
func (r *PostgresRepository) GetActiveOrder(ctx context.Context, userID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o
		 WHERE o.user_id = $1 AND o.status IN ($2, $3, $4)
		 ORDER BY o.created_at DESC
		 LIMIT 1`,
		userID,
		string(model.OrderStatusPending),
		string(model.OrderStatusPreparing),
		string(model.OrderStatusReady),
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get active order: %w", err)
	}

	items, err := r.loadOrderItems(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return order, nil
}

// GetAllOrders возвращает все заказы с данными покупателей для панели столовой.
func (r *PostgresRepository) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`, u.full_name, u.email
		 FROM orders o
		 JOIN users u ON u.id = o.user_id
		 ORDER BY o.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select all orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	var ids []string
	for rows.Next() {
		var (
			o             model.Order
			paise         int64
			method        string
			paymentStatus string
			status        string
		)
		err := rows.Scan(&o.ID, &o.UserID, &paise, &method, &paymentStatus, &status,
			&o.QueueNumber, &o.ETAMinutes, &o.Notes, &o.ScheduledAt, &o.CreatedAt,
			&o.CustomerName, &o.CustomerEmail)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		o.TotalAmount = toRupees(paise)
		o.PaymentMethod = model.PaymentMethod(method)
		o.PaymentStatus = model.PaymentStatus(paymentStatus)
		o.Status = model.OrderStatus(status)

		orders = append(orders, o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	items, err := r.loadOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

// UpdateOrderStatus переводит заказ из статуса from в статус to.
// Условное обновление защищает от конкурентной смены статуса.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`,
		orderID, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return ErrOrderNotFound
	}

	return ErrInvalidTransition
}

// UpdatePaymentStatus фиксирует исход оплаты и сопутствующий статус заказа.
// Обновление выполняется только для заказа с неоплаченным статусом.
func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, orderID string, paymentStatus model.PaymentStatus, status model.OrderStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $2, status = $3 WHERE id = $1 AND payment_status = $4`,
		orderID, string(paymentStatus), string(status), string(model.PaymentStatusPending),
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return ErrOrderNotFound
	}

	return ErrPaymentNotPending
}

// CreateNotification сохраняет уведомление пользователя.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *model.Notification) error {
	var orderID *string
	if n.OrderID != "" {
		orderID = &n.OrderID
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO notifications (user_id, order_id, title, message)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		n.UserID, orderID, n.Title, n.Message,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// GetNotificationsByUser возвращает последние уведомления пользователя.
func (r *PostgresRepository) GetNotificationsByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, COALESCE(order_id::text, ''), title, message, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrderID, &n.Title, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
