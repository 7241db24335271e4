package market

import "sort"

// Table maps symbol to its latest Record. A Table value is never mutated after
// construction; Apply returns a new one, so copies can be handed to readers freely.
type Table struct {
	records map[string]Record
}

// NewTable returns an empty table.
func NewTable() Table {
	return Table{records: make(map[string]Record)}
}

// Len 返回已记录的 symbol 数量。
func (t Table) Len() int { return len(t.records) }

// Get 返回 symbol 的记录。
func (t Table) Get(symbol string) (Record, bool) {
	rec, ok := t.records[symbol]
	return rec, ok
}

// Symbols 返回排序后的 symbol 列表，便于稳定展示。
func (t Table) Symbols() []string {
	out := make([]string, 0, len(t.records))
	for sym := range t.records {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Records 按 symbol 排序返回所有记录。
func (t Table) Records() []Record {
	out := make([]Record, 0, len(t.records))
	for _, sym := range t.Symbols() {
		out = append(out, t.records[sym])
	}
	return out
}

// Apply folds one update into t and returns the resulting table. t itself is left
// untouched. An event without a symbol yields ErrMalformedEvent and t unchanged.
func Apply(t Table, ev UpdateEvent) (Table, error) {
	if ev.Symbol == "" {
		return t, ErrMalformedEvent
	}
	prior, ok := t.records[ev.Symbol]
	rec := merge(prior, ev)
	rec.BidChange = compareBid(prior, ok, ev.Bid)

	next := make(map[string]Record, len(t.records)+1)
	for sym, r := range t.records {
		next[sym] = r
	}
	next[ev.Symbol] = rec
	return Table{records: next}, nil
}
