package gateway

import (
	"encoding/json"
	"sync"
)

// LocalConn はメモリ上で完結する Conn です。テストやボットのシミュレーションで使います。
type LocalConn struct {
	id     string
	inbox  *inbox
	sent   chan json.RawMessage
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func NewLocalConn(id string) *LocalConn {
	c := &LocalConn{
		id:     id,
		sent:   make(chan json.RawMessage, 1024),
		closed: make(chan struct{}),
	}
	c.inbox = newInbox(c.closed)
	return c
}

func (c *LocalConn) ID() string               { return c.id }
func (c *LocalConn) Incoming() <-chan Message { return c.inbox.out }
func (c *LocalConn) Closed() <-chan struct{}  { return c.closed }

func (c *LocalConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *LocalConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.sent <- data:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

func (c *LocalConn) Close() error {
	c.Hangup(nil)
	return nil
}

// Deliver はボット側からのメッセージを模倣します。
func (c *LocalConn) Deliver(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.DeliverRaw(data)
	return nil
}

func (c *LocalConn) DeliverRaw(data []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	c.inbox.push(newMessage(data))
}

// Hangup はボット側の切断を模倣します。err が nil なら正常終了です。
func (c *LocalConn) Hangup(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
	})
}

// Sent はサーバーから送られたメッセージを順に返します。
func (c *LocalConn) Sent() <-chan json.RawMessage {
	return c.sent
}

// IsClosed は接続が終了していれば true を返します。
func (c *LocalConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
