package market

import (
	"sync"
	"time"
)

// FeedErrorMessage is what the board shows for any transport-level error.
const FeedErrorMessage = "An error occurred while receiving data"

// ConnStatus 连接状态，仅用于展示。
type ConnStatus int

const (
	Disconnected ConnStatus = iota
	Connected
)

func (s ConnStatus) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// ConnectionState 连接状态及最近一次错误提示。
type ConnectionState struct {
	Status    ConnStatus
	LastError string
	Since     time.Time
}

// Service 维护最新快照表与连接状态，并向订阅者广播。
// 只有一个写入方（会话读循环），读取方拿到的是不可变副本。
type Service struct {
	pub   *Publisher
	mu    sync.RWMutex
	table Table
	conn  ConnectionState
	now   func() time.Time
}

func NewService(pub *Publisher) *Service {
	if pub == nil {
		pub = NewPublisher()
	}
	return &Service{
		pub:   pub,
		table: NewTable(),
		now:   time.Now,
	}
}

// Publisher 返回广播器，供展示层订阅。
func (s *Service) Publisher() *Publisher { return s.pub }

// Apply 应用一条更新并广播；缺少 symbol 时返回 ErrMalformedEvent，表不变。
func (s *Service) Apply(ev UpdateEvent) (Record, error) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now()
	}
	s.mu.Lock()
	next, err := Apply(s.table, ev)
	if err != nil {
		s.mu.Unlock()
		return Record{}, err
	}
	s.table = next
	conn := s.conn
	s.mu.Unlock()

	rec, _ := next.Get(ev.Symbol)
	s.pub.Publish(Change{Kind: ChangeRecord, Symbol: ev.Symbol, Table: next, Conn: conn})
	return rec, nil
}

// Snapshot 返回当前快照表。
func (s *Service) Snapshot() Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Record 返回单个 symbol 的记录。
func (s *Service) Record(symbol string) (Record, bool) {
	return s.Snapshot().Get(symbol)
}

// Connection 返回当前连接状态。
func (s *Service) Connection() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// OnConnect marks the feed connected and clears the previous error notice.
func (s *Service) OnConnect() {
	s.setConn(func(c *ConnectionState) {
		c.Status = Connected
		c.LastError = ""
	})
}

// OnDisconnect keeps the table so the board can show last-known values.
func (s *Service) OnDisconnect() {
	s.setConn(func(c *ConnectionState) {
		c.Status = Disconnected
	})
}

// OnFeedError 记录传输层错误提示，不改动快照表。
func (s *Service) OnFeedError(message string) {
	if message == "" {
		message = FeedErrorMessage
	}
	s.setConn(func(c *ConnectionState) {
		c.LastError = message
	})
}

func (s *Service) setConn(fn func(*ConnectionState)) {
	s.mu.Lock()
	prev := s.conn
	fn(&s.conn)
	if s.conn.Status != prev.Status {
		s.conn.Since = s.now()
	}
	conn := s.conn
	table := s.table
	s.mu.Unlock()
	s.pub.Publish(Change{Kind: ChangeConnection, Table: table, Conn: conn})
}

// Staleness 返回距离上次更新的时间间隔；如无数据返回一年。
func (s *Service) Staleness(symbol string) time.Duration {
	rec, ok := s.Record(symbol)
	if !ok || rec.UpdatedAt.IsZero() {
		return time.Hour * 24 * 365
	}
	return s.now().Sub(rec.UpdatedAt)
}
