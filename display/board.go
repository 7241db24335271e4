package display

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/shopspring/decimal"

	"market-board-go/market"
)

// NotAvailable 字段缺失时的占位文本。
const NotAvailable = "N/A"

//go:embed templates/board.tmpl
var templateFS embed.FS

var boardTemplate = template.Must(template.New("board.tmpl").Funcs(template.FuncMap{
	"orNA":       orNA,
	"statusOrNA": statusOrNA,
}).ParseFS(templateFS, "templates/board.tmpl"))

// View 是一次渲染所需的只读数据。
type View struct {
	Title     string
	Session   string
	Connected bool
	Error     string
	Records   []market.Record
}

// NewView 从 Service 取一份快照。
func NewView(svc *market.Service, title, session string) View {
	conn := svc.Connection()
	return View{
		Title:     title,
		Session:   session,
		Connected: conn.Status == market.Connected,
		Error:     conn.LastError,
		Records:   svc.Snapshot().Records(),
	}
}

// Board 渲染 HTML 行情看板。
type Board struct {
	Title   string
	Session string
	Svc     *market.Service
}

func (b Board) Render(w io.Writer) error {
	if b.Svc == nil {
		return fmt.Errorf("board: market service not set")
	}
	return boardTemplate.Execute(w, NewView(b.Svc, b.Title, b.Session))
}

func orNA(d decimal.NullDecimal) string {
	if !d.Valid {
		return NotAvailable
	}
	return d.Decimal.String()
}

func statusOrNA(rec market.Record) string {
	if s := rec.Status(); s != "" {
		return s
	}
	return NotAvailable
}
