// Package order 负责订单明细的标准化读取与按商品聚合.
//
// 外部数据源（CSV、XLSX、数据库）的列名各不相同，读取时统一经过 Schema 映射为 Line，
// 下游的分类、弹性、边界与优化模块只认 Line 与 ProductAggregate。
package order

import (
	"strings"
	"time"
)

// Line 标准化后的订单明细行.
type Line struct {
	OrderID     string
	OrderTime   time.Time
	ProductCode string
	ProductName string
	Category    string
	Channel     string
	Quantity    float64
	Revenue     float64 // 实收金额（行合计）
	Cost        float64 // 成本金额（行合计）
	ListPrice   float64 // 单位标价，未知时为 0
}

// Key 商品的稳定标识：优先使用商品编码，否则使用 名称|渠道.
func (l Line) Key() string {
	return ProductKey(l.ProductCode, l.ProductName, l.Channel)
}

// Day 订单所在自然日（按 UTC 截断）.
func (l Line) Day() time.Time {
	y, m, d := l.OrderTime.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ProductKey 按编码或 名称|渠道 生成商品键.
func ProductKey(code, name, channel string) string {
	if c := strings.TrimSpace(code); c != "" {
		return c
	}
	return strings.TrimSpace(name) + "|" + strings.TrimSpace(channel)
}

// Field 标准字段名.
type Field string

const (
	FieldOrderID     Field = "order_id"
	FieldOrderTime   Field = "order_time"
	FieldProductCode Field = "product_code"
	FieldProductName Field = "product_name"
	FieldCategory    Field = "category"
	FieldChannel     Field = "channel"
	FieldQuantity    Field = "quantity"
	FieldRevenue     Field = "revenue"
	FieldUnitPrice   Field = "unit_price"
	FieldCost        Field = "cost"
	FieldUnitCost    Field = "unit_cost"
	FieldListPrice   Field = "list_price"
)

// Schema 标准字段到外部列名别名的映射，匹配时忽略大小写与首尾空白.
type Schema map[Field][]string

// DefaultSchema 内置的中英文列名别名.
func DefaultSchema() Schema {
	return Schema{
		FieldOrderID:     {"order_id", "订单编号", "订单号", "订单id"},
		FieldOrderTime:   {"order_time", "下单时间", "日期", "date"},
		FieldProductCode: {"product_code", "sku", "店内码", "商品编码", "条码"},
		FieldProductName: {"product_name", "商品名称", "name"},
		FieldCategory:    {"category", "一级分类名", "一级分类", "分类"},
		FieldChannel:     {"channel", "渠道"},
		FieldQuantity:    {"quantity", "qty", "销量", "月售", "数量"},
		FieldRevenue:     {"revenue", "实收价格", "实收金额", "销售额"},
		FieldUnitPrice:   {"unit_price", "售价", "单价"},
		FieldCost:        {"cost", "成本", "成本金额"},
		FieldUnitCost:    {"unit_cost", "商品采购价", "采购价", "进价"},
		FieldListPrice:   {"list_price", "商品原价", "原价", "标价"},
	}
}

// Resolve 根据表头找到每个标准字段所在的列下标，未出现的字段不在结果中。
// 同一字段有多个别名命中时取最靠前的列。
func (s Schema) Resolve(header []string) map[Field]int {
	norm := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := norm[h]; !ok {
			norm[h] = i
		}
	}

	out := make(map[Field]int, len(s))
	for field, aliases := range s {
		best := -1
		for _, a := range aliases {
			if idx, ok := norm[strings.ToLower(strings.TrimSpace(a))]; ok && (best < 0 || idx < best) {
				best = idx
			}
		}
		if best >= 0 {
			out[field] = best
		}
	}
	return out
}

// Missing 返回表头缺失的必需字段组，每组内任意一个字段存在即可.
func Missing(cols map[Field]int) []string {
	groups := [][]Field{
		{FieldProductCode, FieldProductName},
		{FieldQuantity},
		{FieldRevenue, FieldUnitPrice},
		{FieldCost, FieldUnitCost},
	}
	var missing []string
	for _, g := range groups {
		found := false
		for _, f := range g {
			if _, ok := cols[f]; ok {
				found = true
				break
			}
		}
		if !found {
			names := make([]string, len(g))
			for i, f := range g {
				names[i] = string(f)
			}
			missing = append(missing, strings.Join(names, "|"))
		}
	}
	return missing
}
