package websocket

import (
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Дедлайн одной записи в соединение
	writeWait = 10 * time.Second

	// Сколько ждём pong; соединение без pong считается мёртвым
	pongWait = 60 * time.Second

	// Период ping, строго меньше pongWait
	pingPeriod = (pongWait * 9) / 10

	// Поток односторонний - от клиента ждём только управляющие фреймы,
	// любое содержательное сообщение крупнее этого лимита рвёт соединение
	maxInboundSize = 512

	// Буфер исходящих на клиента. Снапшот с портфелем - единицы KB;
	// клиент, не вычитавший буфер целиком, отключается хабом
	clientSendBufferSize = 512
)

// OriginChecker решает, каким браузерным origin разрешён апгрейд
// до WebSocket. Собирается один раз при старте, дальше только чтение.
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

var originChecker = newOriginChecker(os.Getenv("ALLOWED_ORIGINS"))

// newOriginChecker разбирает список origins через запятую.
// Пустое значение или "*" - режим разработки, пропускаются все.
func newOriginChecker(env string) *OriginChecker {
	checker := &OriginChecker{
		allowedOrigins: make(map[string]struct{}),
	}

	if env == "" || env == "*" {
		checker.allowAll = true
		return checker
	}

	for _, origin := range strings.Split(env, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	return checker
}

// Check сообщает, разрешён ли origin. Пустой origin - не браузер
// (curl, healthcheck), такие клиенты пропускаются всегда.
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" || oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return originChecker.Check(r.Header.Get("Origin"))
	},
	// Снапшоты - многословный JSON, сжатие заметно экономит трафик
	EnableCompression: true,
}

// clientPool переиспользует Client вместе с его send каналом:
// дашборды переподключаются часто (деплой, сон ноутбука)
var clientPool = sync.Pool{
	New: func() interface{} {
		return &Client{
			send: make(chan []byte, clientSendBufferSize),
		}
	},
}

// Client - одно WebSocket соединение дашборда.
//
// Поток строго односторонний: сервер пушит snapshotUpdate и
// refreshError, клиент ничего содержательного не шлёт. Две горутины
// на соединение: readPump следит за живостью (pong, close), writePump
// доставляет сообщения из send.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	// Буферизованные исходящие; закрывается хабом при отключении
	send chan []byte
}

// readPump держит читающую сторону соединения: обновляет read deadline
// по pong и замечает разрыв. Входящие данные выбрасываются - протокол
// не предусматривает сообщений от дашборда, а лимит maxInboundSize
// отсекает клиентов, пытающихся что-то слать.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.release()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
		io.Copy(io.Discard, r)
	}
}

// writePump доставляет сообщения из send и пингует клиента.
// Накопившиеся в буфере сообщения дописываются в тот же фрейм
// через newline - дашборд разбирает фрейм построчно.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал - прощаемся
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Сливаем буфер неблокирующими чтениями: len(send) между
			// проверкой и чтением менять может только закрытие канала
		drain:
			for {
				select {
				case queued, ok := <-c.send:
					if !ok {
						break drain
					}
					w.Write([]byte{'\n'})
					w.Write(queued)
				default:
					break drain
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP запрос до WebSocket и подключает клиента
// к потоку снапшотов. Регистрируется в routes как /ws/stream.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := clientPool.Get().(*Client)
	client.conn = conn
	client.hub = hub

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// release возвращает клиента в пул. Старый send канал закрывает hub
// при unregister, причём асинхронно - поэтому в пул уходит свежий
// канал, а не закрытый.
func (c *Client) release() {
	c.conn = nil
	c.hub = nil
	c.send = make(chan []byte, clientSendBufferSize)
	clientPool.Put(c)
}
