package market

import "sync"

// ChangeKind 标识一次变更的来源。
type ChangeKind int

const (
	ChangeRecord ChangeKind = iota
	ChangeConnection
)

// Change 携带变更后的完整快照，订阅方无需再回查 Service。
type Change struct {
	Kind   ChangeKind
	Symbol string
	Table  Table
	Conn   ConnectionState
}

// Publisher 一个轻量事件分发器；慢订阅者只会错过中间态，始终能拿到最新一次变更。
type Publisher struct {
	mu   sync.Mutex
	subs map[int]chan Change
	next int
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[int]chan Change)}
}

// Subscribe 返回变更通道及取消函数；取消后通道被关闭。
func (p *Publisher) Subscribe() (<-chan Change, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	ch := make(chan Change, 1)
	p.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			close(ch)
		})
	}
}

// Publish 非阻塞投递；缓冲已满时用新变更替换旧变更。
func (p *Publisher) Publish(c Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- c:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- c:
		default:
		}
	}
}

// Len reports the number of live subscribers.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
