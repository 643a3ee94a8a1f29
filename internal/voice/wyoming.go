package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	wyomingDialTimeout = 5 * time.Second
	wyomingSendTimeout = 10 * time.Second
)

// WyomingPool holds one WebSocket connection per (host, port) satellite
// and implements AudioSender. Broken connections are dropped and redialed
// on the next send.
type WyomingPool struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewWyomingPool creates an empty pool.
func NewWyomingPool() *WyomingPool {
	return &WyomingPool{conns: make(map[string]*websocket.Conn)}
}

type wyomingAudioMessage struct {
	Type     string `json:"type"`
	Rate     int    `json:"rate"`
	Width    int    `json:"width"`
	Channels int    `json:"channels"`
	Audio    string `json:"audio"`
}

func (p *WyomingPool) conn(ctx context.Context, key, addr string) (*websocket.Conn, error) {
	p.mu.Lock()
	if c, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, wyomingDialTimeout)
	defer cancel()

	c, resp, err := websocket.Dial(dialCtx, "ws://"+addr, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial wyoming %s: %w", addr, err)
	}

	p.mu.Lock()
	// Another sender may have raced us; keep the first connection.
	if existing, ok := p.conns[key]; ok {
		p.mu.Unlock()
		c.Close(websocket.StatusNormalClosure, "duplicate")
		return existing, nil
	}
	p.conns[key] = c
	p.mu.Unlock()
	return c, nil
}

func (p *WyomingPool) drop(key string) {
	p.mu.Lock()
	c, ok := p.conns[key]
	delete(p.conns, key)
	p.mu.Unlock()
	if ok {
		c.Close(websocket.StatusInternalError, "send failed")
	}
}

// Send delivers one audio payload and returns once the satellite has
// accepted the write.
func (p *WyomingPool) Send(ctx context.Context, host string, port int, audio []byte) error {
	addr := fmt.Sprintf("%s:%d", host, port)

	c, err := p.conn(ctx, addr, addr)
	if err != nil {
		return err
	}

	msg := wyomingAudioMessage{
		Type:     "audio",
		Rate:     16000,
		Width:    2,
		Channels: 1,
		Audio:    base64.StdEncoding.EncodeToString(audio),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal wyoming message: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, wyomingSendTimeout)
	defer cancel()

	if err := c.Write(sendCtx, websocket.MessageText, body); err != nil {
		p.drop(addr)
		return fmt.Errorf("wyoming send to %s: %w", addr, err)
	}
	return nil
}

// Close shuts down every pooled connection.
func (p *WyomingPool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*websocket.Conn)
	p.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusNormalClosure, "shutdown")
	}
}
