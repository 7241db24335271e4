package integration

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// MockFeed 模拟行情推送服务（用于集成测试）
type MockFeed struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*MockConn
	secrets []string

	// 每次收到 request-data 时推送一次
	Requests chan []string
}

// MockConn 服务端视角的一条连接
type MockConn struct {
	Symbols []string
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  chan struct{}
}

// NewMockFeed 创建并启动 MockFeed
func NewMockFeed() *MockFeed {
	m := &MockFeed{Requests: make(chan []string, 16)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// WSURL 返回 ws:// 地址
func (m *MockFeed) WSURL() string {
	return "ws" + strings.TrimPrefix(m.Server.URL, "http")
}

func (m *MockFeed) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}
	var req struct {
		Event string   `json:"event"`
		Data  []string `json:"data"`
	}
	if err := json.Unmarshal(raw, &req); err != nil || req.Event != "request-data" {
		_ = conn.Close()
		return
	}

	mc := &MockConn{Symbols: req.Data, conn: conn, closed: make(chan struct{})}
	m.mu.Lock()
	m.conns = append(m.conns, mc)
	m.secrets = append(m.secrets, r.URL.Query().Get("secret"))
	m.mu.Unlock()
	m.Requests <- req.Data

	// 读到错误即视为客户端断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(mc.closed)
			_ = conn.Close()
			return
		}
	}
}

// Latest 返回最近一条连接
func (m *MockFeed) Latest() (*MockConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) == 0 {
		return nil, errors.New("no client connected")
	}
	return m.conns[len(m.conns)-1], nil
}

// Conns 返回所有连接
func (m *MockFeed) Conns() []*MockConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockConn(nil), m.conns...)
}

// Secrets 返回每次连接携带的 secret
func (m *MockFeed) Secrets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.secrets...)
}

// Push 向连接推送一条事件
func (c *MockConn) Push(event string, data interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	if err != nil {
		return err
	}
	return c.PushRaw(payload)
}

// PushRaw 推送原始文本帧
func (c *MockConn) PushRaw(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Closed 在客户端断开后关闭
func (c *MockConn) Closed() <-chan struct{} { return c.closed }
