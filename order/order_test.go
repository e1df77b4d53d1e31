package order

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/wyfcoding/pricing/xerrors"
)

func TestReadCSVWithChineseHeaders(t *testing.T) {
	data := "订单编号,下单时间,商品名称,一级分类名,渠道,月售,实收价格,商品采购价,商品原价\n" +
		"A1,2024-03-01 10:00:00,可乐,饮料,美团,2,\"1,000.00\",3.5,6\n" +
		"A2,2024-03-02,可乐,饮料,美团,1,5,3.5,\n" +
		"A3,2024-03-02,,饮料,美团,1,5,3.5,\n" +
		"A4,2024-03-02,雪碧,饮料,美团,abc,5,3.5,\n" +
		",,,,,,,,\n"

	res, err := NewReader("").ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Lines, 2)

	first := res.Lines[0]
	assert.Equal(t, "A1", first.OrderID)
	assert.Equal(t, "可乐|美团", first.Key())
	assert.Equal(t, 1000.0, first.Revenue)
	// 单位成本按销量折算为行成本
	assert.Equal(t, 7.0, first.Cost)
	assert.Equal(t, 6.0, first.ListPrice)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), first.OrderTime)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), res.Lines[1].OrderTime)
}

func TestReadCSVUnitPriceDerivation(t *testing.T) {
	data := "sku,product_name,quantity,unit_price,cost\nS1,Tea,3,2.5,4\n"
	res, err := NewReader("").ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, "S1", res.Lines[0].Key())
	assert.Equal(t, 7.5, res.Lines[0].Revenue)
	assert.Equal(t, 4.0, res.Lines[0].Cost)
}

func TestReadCSVSchemaMismatch(t *testing.T) {
	_, err := NewReader("").ReadCSV(strings.NewReader("product_name,quantity\nTea,1\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrSchemaMismatch))
	assert.Contains(t, err.Error(), "revenue|unit_price")

	_, err = NewReader("").ReadCSV(strings.NewReader(""))
	assert.True(t, errors.Is(err, xerrors.ErrEmptyData))
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"product_code", "product_name", "category", "quantity", "revenue", "cost", "order_time"},
		{"P1", "Milk", "Dairy", 4, 20, 12, "2024-05-01"},
		{"P2", "Bread", "Bakery", 1, 3, 2, "2024-05-02"},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	res, err := NewReader("").Read(&buf, FormatXLSX)
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, "P1", res.Lines[0].Key())
	assert.Equal(t, 4.0, res.Lines[0].Quantity)
	assert.Equal(t, 20.0, res.Lines[0].Revenue)
	assert.Equal(t, "Dairy", res.Lines[0].Category)
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("/tmp/orders.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = FormatFromPath("orders.json")
	assert.True(t, errors.Is(err, xerrors.ErrUnsupportedFormat))
}

func TestAggregate(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lines := []Line{
		{OrderID: "o1", OrderTime: day, ProductCode: "A", ProductName: "Apple", Category: "Fruit", Quantity: 2, Revenue: 10, Cost: 6, ListPrice: 6},
		{OrderID: "o2", OrderTime: day.AddDate(0, 0, 1), ProductCode: "A", ProductName: "Apple", Category: "Fruit", Quantity: 3, Revenue: 15, Cost: 9},
		{OrderID: "o2", OrderTime: day.AddDate(0, 0, 1), ProductCode: "A", ProductName: "Apple", Category: "Fruit", Quantity: 1, Revenue: 5, Cost: 3},
		{OrderID: "o3", OrderTime: day, ProductCode: "B", ProductName: "Banana", Category: "Fruit", Quantity: 1, Revenue: 0, Cost: 2},
		{OrderID: "o4", OrderTime: day, ProductCode: "G", ProductName: "Bag", Category: "包装", Quantity: 1, Revenue: 1, Cost: 1},
		{OrderID: "o5", OrderTime: day, ProductCode: "R", ProductName: "Refund", Category: "Fruit", Quantity: 0, Revenue: 0, Cost: 0},
	}

	aggs, excl := Aggregate(lines, AggregateOptions{NonSellableCategories: []string{"包装"}})
	require.Len(t, aggs, 2)

	a := aggs[0]
	assert.Equal(t, "A", a.Key)
	assert.Equal(t, 6.0, a.QuantitySold)
	assert.Equal(t, 2, a.OrderCount)
	assert.Equal(t, 30.0, a.Revenue)
	assert.Equal(t, 18.0, a.Cost)
	assert.Equal(t, 12.0, a.Profit)
	assert.InDelta(t, 5.0, a.RealizedPrice, 1e-9)
	assert.InDelta(t, 3.0, a.UnitCost, 1e-9)
	assert.InDelta(t, 40.0, a.ProfitRate, 1e-9)
	assert.Equal(t, 6.0, a.ListPrice)
	assert.Equal(t, day, a.FirstSeen)
	assert.InDelta(t, 1.0, a.VelocityIndex, 1e-12)

	b := aggs[1]
	assert.Equal(t, -100.0, b.ProfitRate)
	assert.Equal(t, 0.0, b.VelocityIndex)
	assert.Equal(t, 0.0, b.ListPrice, "list price falls back to realized price")

	require.Len(t, excl, 2)
	assert.Equal(t, Exclusion{Key: "G", Name: "Bag", Reason: ReasonNonSellableCategory, Detail: "包装"}, excl[0])
	assert.Equal(t, "R", excl[1].Key)
	assert.Equal(t, ReasonNoSales, excl[1].Reason)
}

func TestVelocityDegenerateRange(t *testing.T) {
	lines := []Line{
		{ProductCode: "A", Quantity: 1, Revenue: 1},
		{ProductCode: "B", Quantity: 1, Revenue: 1},
	}
	aggs, _ := Aggregate(lines, AggregateOptions{})
	for _, a := range aggs {
		assert.InDelta(t, 0.5, a.VelocityIndex, 1e-12)
	}
}

func TestProfitRateGuards(t *testing.T) {
	assert.Equal(t, 0.0, ProfitRate(0, 0))
	assert.Equal(t, -100.0, ProfitRate(0, 5))
	assert.InDelta(t, 25.0, ProfitRate(8, 6), 1e-9)
}

func TestAggregateDropsReturnsBeforeSumming(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lines := []Line{
		{OrderID: "s1", OrderTime: day, ProductCode: "A", ProductName: "Apple", Quantity: 10, Revenue: 100, Cost: 60},
		{OrderID: "r1", OrderTime: day.AddDate(0, 0, 1), ProductCode: "A", ProductName: "Apple", Quantity: -4, Revenue: -40, Cost: -24},
		{OrderID: "s2", OrderTime: day, ProductCode: "B", ProductName: "Banana", Quantity: 2, Revenue: 8, Cost: 4},
		{OrderID: "r2", OrderTime: day.AddDate(0, 0, 1), ProductCode: "B", ProductName: "Banana", Quantity: -2, Revenue: -8, Cost: -4},
		{OrderID: "r3", OrderTime: day, ProductCode: "C", ProductName: "Cherry", Quantity: -1, Revenue: -3, Cost: -2},
	}

	aggs, excl := Aggregate(lines, AggregateOptions{})
	require.Len(t, aggs, 2)

	a := aggs[0]
	assert.Equal(t, "A", a.Key)
	assert.Equal(t, 10.0, a.QuantitySold)
	assert.Equal(t, 100.0, a.Revenue)
	assert.Equal(t, 60.0, a.Cost)
	assert.Equal(t, 1, a.OrderCount)
	assert.Equal(t, day, a.LastSeen)

	b := aggs[1]
	assert.Equal(t, "B", b.Key)
	assert.Equal(t, 2.0, b.QuantitySold)
	assert.Equal(t, 1, b.OrderCount)

	require.Len(t, excl, 1)
	assert.Equal(t, Exclusion{Key: "C", Name: "Cherry", Reason: ReasonNoSales}, excl[0])
}
