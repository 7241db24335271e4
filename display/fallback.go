package display

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"runtime/debug"
	"sync"
)

// DefaultFallback 子视图失败时展示的静态内容。
const DefaultFallback = "Something went wrong."

// Renderable 能把自己写入 w 的视图。
type Renderable interface {
	Render(w io.Writer) error
}

// Fault 描述一次渲染失败；Recovered 非 nil 表示来自 panic。
type Fault struct {
	Err       error
	Recovered interface{}
	Stack     []byte
}

// FaultHandler 接收子视图的失败。
type FaultHandler interface {
	OnFault(f Fault)
}

// FaultFunc 让普通函数满足 FaultHandler。
type FaultFunc func(f Fault)

func (fn FaultFunc) OnFault(f Fault) { fn(f) }

// Fallback 包裹一个子视图：子视图返回错误或 panic 时，丢弃其部分输出并改写静态内容。
type Fallback struct {
	Child    Renderable
	Static   string
	Reporter FaultHandler

	mu        sync.Mutex
	lastFault *Fault
}

// Render 先渲染到缓冲区，成功后才写出，避免半截页面。
func (f *Fallback) Render(w io.Writer) error {
	var buf bytes.Buffer
	if fault := f.renderChild(&buf); fault != nil {
		f.OnFault(*fault)
		static := f.Static
		if static == "" {
			static = DefaultFallback
		}
		_, err := io.WriteString(w, "<h1>"+html.EscapeString(static)+"</h1>")
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// OnFault 记录最近一次失败并转发给 Reporter。
func (f *Fallback) OnFault(fault Fault) {
	f.mu.Lock()
	f.lastFault = &fault
	f.mu.Unlock()
	if f.Reporter != nil {
		f.Reporter.OnFault(fault)
	}
}

// LastFault 返回最近一次失败。
func (f *Fallback) LastFault() (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastFault == nil {
		return Fault{}, false
	}
	return *f.lastFault, true
}

func (f *Fallback) renderChild(w io.Writer) (fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &Fault{
				Err:       fmt.Errorf("render panic: %v", r),
				Recovered: r,
				Stack:     debug.Stack(),
			}
		}
	}()
	if f.Child == nil {
		return &Fault{Err: fmt.Errorf("fallback: no child view")}
	}
	if err := f.Child.Render(w); err != nil {
		return &Fault{Err: err}
	}
	return nil
}
