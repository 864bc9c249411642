package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second // 60秒の読み取りデッドライン
	pingPeriod = 10 * time.Second // 10秒ごとにPingを送信
	sendBuffer = 64
)

// Gateway は HTTP リクエストを websocket 接続へアップグレードします。
type Gateway struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func New(allowedOrigins []string, logger *zap.Logger) *Gateway {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// ボットはブラウザではないので Origin 無しを許可する
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
		logger: logger,
	}
}

// Accept は接続をアップグレードし、読み書きのゴルーチンを起動します。
func (g *Gateway) Accept(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("Error upgrading WebSocket", zap.Error(err))
		return nil, err
	}
	conn := newWSConn(uuid.New().String(), ws, g.logger)
	g.logger.Info("New connection", zap.String("connID", conn.id), zap.String("remote", ws.RemoteAddr().String()))
	return conn, nil
}

// WSConn は gorilla/websocket 上の Conn 実装です。
// 書き込みは writeLoop だけが行います。
type WSConn struct {
	id       string
	ws       *websocket.Conn
	logger   *zap.Logger
	inbox    *inbox
	outgoing chan []byte

	quit      chan struct{} // Close が呼ばれた
	closed    chan struct{} // 接続が完全に終了した
	quitOnce  sync.Once
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func newWSConn(id string, ws *websocket.Conn, logger *zap.Logger) *WSConn {
	c := &WSConn{
		id:       id,
		ws:       ws,
		logger:   logger.With(zap.String("connID", id)),
		outgoing: make(chan []byte, sendBuffer),
		quit:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	c.inbox = newInbox(c.closed)
	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *WSConn) ID() string               { return c.id }
func (c *WSConn) Incoming() <-chan Message { return c.inbox.out }
func (c *WSConn) Closed() <-chan struct{}  { return c.closed }

func (c *WSConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send は v をJSONにエンコードして送信キューに積みます。
func (c *WSConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.quit:
		return ErrClosed
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.quit:
		return ErrClosed
	case <-c.closed:
		return ErrClosed
	}
}

// Close は送信キューを書き出してから接続を閉じます。
func (c *WSConn) Close() error {
	c.quitOnce.Do(func() { close(c.quit) })
	select {
	case <-c.closed:
	case <-time.After(writeWait):
		c.finish(nil)
	}
	return nil
}

func (c *WSConn) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
		c.ws.Close()
		if err != nil {
			c.logger.Warn("Connection errored", zap.Error(err))
		} else {
			c.logger.Info("Connection closed")
		}
	})
}

// クライアントごとにメッセージ読み取りするゴルーチン
func (c *WSConn) readLoop() {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.quit:
				// こちらから閉じた
				c.finish(nil)
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.finish(err)
			} else {
				c.finish(nil)
			}
			return
		}

		msg := newMessage(data)
		if msg.Malformed {
			// プロトコルエラーでも接続は維持し、判断は上流に任せる
			c.logger.Warn("Error decoding message", zap.ByteString("message", data))
		}
		c.inbox.push(msg)
	}
}

// 書き込みとPing/Pongを管理するゴルーチン
func (c *WSConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.outgoing:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.finish(err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Error("Error sending ping", zap.Error(err))
				c.finish(err)
				return
			}
		case <-c.quit:
			c.flush()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.finish(nil)
			return
		case <-c.closed:
			return
		}
	}
}

// 送信キューに残っているメッセージを書き出す
func (c *WSConn) flush() {
	for {
		select {
		case data := <-c.outgoing:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *WSConn) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}
