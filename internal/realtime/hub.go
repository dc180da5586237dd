// Package realtime реализует websocket-рассылку событий заказов.
package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/canteen-system/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client представляет одно websocket-подключение.
// Студент получает события только своих заказов; работник столовой — все.
type Client struct {
	UserID string
	All    bool
	Send   chan []byte

	conn *websocket.Conn
}

// Hub рассылает события заказов подключённым клиентам.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan model.OrderEvent
	stop       chan struct{}
	logger     *zap.Logger
}

// NewHub создаёт новый хаб рассылки.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan model.OrderEvent, 64),
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

// Run обрабатывает регистрацию клиентов и рассылку событий до вызова Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
			}
		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal order event", zap.Error(err))
				continue
			}
			for c := range h.clients {
				if !c.All && c.UserID != ev.UserID {
					continue
				}
				select {
				case c.Send <- data:
				default:
					// Медленный клиент отключается, чтобы не блокировать рассылку.
					delete(h.clients, c)
					close(c.Send)
				}
			}
		case <-h.stop:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.Send)
			}
			return
		}
	}
}

// Stop останавливает хаб и закрывает все подключения.
func (h *Hub) Stop() {
	close(h.stop)
}

// Publish отправляет событие заказа подписчикам. Если хаб остановлен
// или переполнен, событие отбрасывается: клиенты всё равно перечитывают
// список заказов при следующем событии или запросе.
func (h *Hub) Publish(ev model.OrderEvent) {
	select {
	case h.broadcast <- ev:
	default:
	}
}

// ServeWS апгрейдит HTTP-запрос до websocket и регистрирует клиента.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string, all bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade", zap.Error(err))
		return
	}

	client := &Client{
		UserID: userID,
		All:    all,
		Send:   make(chan []byte, 16),
		conn:   conn,
	}

	h.register <- client

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump отбрасывает входящие сообщения: подписка односторонняя.
func (h *Hub) readPump(c *Client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
