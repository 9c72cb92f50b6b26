package websocket

import (
	"bytes"
	"log"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"brokergate/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ ОПТИМИЗАЦИЯ: sync.Pool для JSON буферов ============
// Убирает аллокации при каждом Broadcast

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512)) // начальный размер 512 байт
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast сообщений всем подключенным клиентам.
// Обеспечивает real-time обновления снапшотов аккаунтов на frontend
// без необходимости polling.
//
// Функции:
// - Регистрация новых WebSocket клиентов
// - Отмена регистрации отключенных клиентов
// - Broadcast сообщений всем активным клиентам
// - Очистка отключенных и медленных соединений
// - Потокобезопасная работа с клиентами (sync.RWMutex)
//
// Типы сообщений:
// - snapshotUpdate: свежий снапшот аккаунта после фонового обновления
// - refreshError: ошибка обновления аккаунта
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastSnapshot(userID, accountID, snapshot)
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Сигнал остановки главного цикла
	stop chan struct{}

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Обрабатывает регистрацию, отмену регистрации и broadcast
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			// Закрываем все соединения и выходим
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("Client connected. Total clients: %d", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("Client disconnected. Total clients: %d", h.ClientCount())

		case message := <-h.broadcast:
			// Копируем список клиентов под коротким RLock
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			// Отправляем без блокировки, чтобы не задерживать register/unregister
			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает обрабатывать - помечаем для удаления
					toRemove = append(toRemove, client)
				}
			}

			// Удаляем медленных клиентов под Write Lock
			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
				log.Printf("Removed %d slow clients. Total clients: %d", len(toRemove), h.ClientCount())
			}
		}
	}
}

// Broadcast сериализует сообщение и отправляет всем подключенным клиентам.
// Использует sync.Pool для буферов и jsoniter для сериализации.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		log.Printf("Error marshaling broadcast message: %v", err)
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Копируем данные (буфер вернётся в пул)
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)

	jsonBufferPool.Put(buf)

	h.broadcast <- msgCopy
}

// BroadcastSnapshot отправляет свежий снапшот аккаунта.
// Реализует service.SnapshotBroadcaster.
func (h *Hub) BroadcastSnapshot(userID, accountID string, snapshot *models.AccountSnapshot) {
	h.Broadcast(NewSnapshotUpdateMessage(userID, accountID, snapshot))
}

// BroadcastRefreshError отправляет ошибку обновления аккаунта
func (h *Hub) BroadcastRefreshError(userID, accountID string, err error) {
	h.Broadcast(NewRefreshErrorMessage(userID, accountID, err))
}

// Stop останавливает главный цикл Hub и закрывает все соединения.
// Безопасен для однократного вызова после Run.
func (h *Hub) Stop() {
	close(h.stop)
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
