// Package websocket - real-time стрим для операторского UI:
// прогресс исполнения по слайсам, доменные события, обновления equity.
package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"fundarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул JSON-буферов: Broadcast вызывается на каждый слайс и каждое
// событие, без пула это постоянные аллокации
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями.
//
// Центральный менеджер broadcast-сообщений: исполнения, события,
// equity. Клиент, не успевающий читать, отключается - broadcast
// никогда не блокируется на медленном соединении.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	// dropped - сообщения, отброшенные при переполнении broadcast-канала
	dropped atomic.Int64

	origins *originChecker
	logger  *utils.Logger

	mu sync.RWMutex
}

// NewHub создает hub. allowedOrigins - origins операторского UI;
// пустой список разрешает все (локальное развертывание).
func NewHub(allowedOrigins []string, logger *utils.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    newOriginChecker(allowedOrigins),
		logger:     utils.EnsureLogger(logger).WithComponent("websocket"),
	}
}

// Run крутит главный цикл hub'а до Stop. Запускать в горутине.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", utils.Int("total", total))

		case client := <-h.unregister:
			h.removeClients([]*Client{client})

		case message := <-h.broadcast:
			h.deliver(message)

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop останавливает цикл Run и закрывает всех клиентов.
// Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// deliver рассылает сообщение; медленные клиенты отключаются
func (h *Hub) deliver(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}

	if len(slow) > 0 {
		h.removeClients(slow)
		h.logger.Warn("evicted slow clients", utils.Int("count", len(slow)))
	}
}

func (h *Hub) removeClients(clients []*Client) {
	h.mu.Lock()
	for _, client := range clients {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("clients removed", utils.Int("total", total))
}

// Broadcast сериализует сообщение и рассылает всем клиентам.
// Не блокируется: при переполнении канала сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("broadcast marshal failed", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := buf.Bytes()
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}

	msg := make([]byte, len(data))
	copy(msg, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msg)
}

// BroadcastRaw рассылает уже сериализованные данные
func (h *Hub) BroadcastRaw(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
