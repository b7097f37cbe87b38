// Package features 把外部特征表解析成统一列名的特征窗口。
// 列别名（ma_5/sma_5 等）只在入口处解析一次，逐标的的热路径只按规范列取值。
package features

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Column 规范列名
type Column string

const (
	MA5         Column = "ma_5"
	MA20        Column = "ma_20"
	Momentum5   Column = "momentum_5"
	VolumeRatio Column = "volume_ratio"
	RSI         Column = "rsi"
	Close       Column = "close"
)

// aliases 每个规范列可接受的外部列名，按优先级排列（先出现者优先）
var aliases = map[Column][]string{
	MA5:         {"ma_5", "sma_5"},
	MA20:        {"ma_20", "sma_20"},
	Momentum5:   {"momentum_5", "momentum_5d"},
	VolumeRatio: {"volume_ratio"},
	RSI:         {"rsi"},
	Close:       {"close"},
}

// CanonicalColumns 模型输入使用的列顺序
var CanonicalColumns = []Column{MA5, MA20, Momentum5, VolumeRatio, RSI}

// Table 外部提供的特征表：按时间升序排列的行
type Table struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

// Window 规范化后的特征窗口
type Window struct {
	length int
	series map[Column][]float64
	extra  map[string][]float64
}

// Resolve 解析特征表。列名大小写不敏感；缺失的规范列不是错误，取值时返回 ok=false。
func Resolve(t Table) (*Window, error) {
	index := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		key := strings.ToLower(strings.TrimSpace(c))
		if _, dup := index[key]; dup {
			return nil, errors.Errorf("duplicate feature column %q", c)
		}
		index[key] = i
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, errors.Errorf("row %d has %d values, want %d", i, len(row), len(t.Columns))
		}
	}

	w := &Window{
		length: len(t.Rows),
		series: make(map[Column][]float64, len(aliases)),
		extra:  make(map[string][]float64),
	}
	used := make(map[int]bool)
	for col, names := range aliases {
		for _, name := range names {
			idx, ok := index[name]
			if !ok {
				continue
			}
			w.series[col] = column(t.Rows, idx)
			used[idx] = true
			break
		}
	}
	for name, idx := range index {
		if !used[idx] {
			w.extra[name] = column(t.Rows, idx)
		}
	}
	return w, nil
}

// FromSeries 直接用规范列构造窗口（各列长度必须一致）
func FromSeries(series map[Column][]float64) (*Window, error) {
	w := &Window{length: -1, series: make(map[Column][]float64, len(series)), extra: map[string][]float64{}}
	for col, vals := range series {
		if w.length >= 0 && len(vals) != w.length {
			return nil, errors.Errorf("column %s has %d rows, want %d", col, len(vals), w.length)
		}
		w.length = len(vals)
		w.series[col] = append([]float64(nil), vals...)
	}
	if w.length < 0 {
		w.length = 0
	}
	return w, nil
}

func column(rows [][]float64, idx int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r[idx]
	}
	return out
}

// Len 行数
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	return w.length
}

// Has 规范列是否存在
func (w *Window) Has(c Column) bool {
	if w == nil {
		return false
	}
	_, ok := w.series[c]
	return ok
}

// Latest 最新一行的值；列缺失、窗口为空或值为 NaN 时 ok=false
func (w *Window) Latest(c Column) (float64, bool) {
	return w.At(c, w.Len()-1)
}

// At 第 i 行的值
func (w *Window) At(c Column, i int) (float64, bool) {
	if w == nil || i < 0 || i >= w.length {
		return 0, false
	}
	s, ok := w.series[c]
	if !ok {
		return 0, false
	}
	v := s[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Series 规范列的副本
func (w *Window) Series(c Column) []float64 {
	if w == nil {
		return nil
	}
	s, ok := w.series[c]
	if !ok {
		return nil
	}
	return append([]float64(nil), s...)
}

// Extra 未映射到规范列的原始列
func (w *Window) Extra(name string) ([]float64, bool) {
	if w == nil {
		return nil, false
	}
	s, ok := w.extra[strings.ToLower(name)]
	return s, ok
}

// Tail 最近 n 行按 cols 顺序展开成一维数组（行优先），缺失值填 0
func (w *Window) Tail(n int, cols []Column) []float64 {
	if n > w.Len() {
		n = w.Len()
	}
	out := make([]float64, 0, n*len(cols))
	for i := w.Len() - n; i < w.Len(); i++ {
		for _, c := range cols {
			v, _ := w.At(c, i)
			out = append(out, v)
		}
	}
	return out
}
