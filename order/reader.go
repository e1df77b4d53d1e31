package order

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wyfcoding/pricing/money"
	"github.com/wyfcoding/pricing/xerrors"

	"github.com/xuri/excelize/v2"
)

// Format 订单文件格式.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFromPath 根据扩展名推断文件格式.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", xerrors.ErrUnsupportedFormat.Derive("file %s", filepath.Base(path))
	}
}

// ReadResult 读取结果.
type ReadResult struct {
	Lines   []Line
	Total   int // 数据行总数（不含表头）
	Skipped int // 缺少必需值而被跳过的行数
}

// Reader 按 Schema 把表格数据标准化为订单明细.
type Reader struct {
	Schema Schema
	// TimeLayouts 依次尝试的时间格式.
	TimeLayouts []string
	// Sheet XLSX 工作表名，为空时取第一个工作表.
	Sheet string
}

// NewReader 创建默认 Reader，layout 非空时优先尝试.
func NewReader(layout string) *Reader {
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02 15:04:05",
		"2006/01/02",
		time.RFC3339,
	}
	if layout != "" {
		layouts = append([]string{layout}, layouts...)
	}
	return &Reader{Schema: DefaultSchema(), TimeLayouts: layouts}
}

// Read 按格式读取.
func (r *Reader) Read(src io.Reader, format Format) (*ReadResult, error) {
	switch format {
	case FormatCSV:
		return r.ReadCSV(src)
	case FormatXLSX:
		return r.ReadXLSX(src)
	default:
		return nil, xerrors.ErrUnsupportedFormat.Derive("format %q", format)
	}
}

// ReadCSV 读取 CSV 订单明细，第一行为表头.
func (r *Reader) ReadCSV(src io.Reader) (*ReadResult, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, xerrors.ErrEmptyData.Derive("csv has no header row")
	}
	if err != nil {
		return nil, xerrors.WrapInternal(err, "failed to read CSV header")
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, xerrors.WrapInternal(err, fmt.Sprintf("error reading line %d", len(rows)+2))
		}
		rows = append(rows, record)
	}
	return r.normalize(header, rows)
}

// ReadXLSX 读取 XLSX 订单明细，第一行为表头.
func (r *Reader) ReadXLSX(src io.Reader) (*ReadResult, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, xerrors.WrapInternal(err, "failed to open Excel file")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, xerrors.ErrEmptyData.Derive("no sheets found in Excel file")
	}
	sheet := sheets[0]
	if r.Sheet != "" {
		sheet = r.Sheet
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, xerrors.WrapInternal(err, "failed to read sheet "+sheet)
	}
	if len(rows) == 0 {
		return nil, xerrors.ErrEmptyData.Derive("sheet %s is empty", sheet)
	}
	return r.normalize(rows[0], rows[1:])
}

// normalize 按表头解析列位置并逐行转换，单行缺值只计入 Skipped。
func (r *Reader) normalize(header []string, rows [][]string) (*ReadResult, error) {
	cols := r.Schema.Resolve(header)
	if missing := Missing(cols); len(missing) > 0 {
		return nil, xerrors.ErrSchemaMismatch.Derive("missing columns: %s", strings.Join(missing, ", ")).
			WithContext("missing", missing)
	}

	res := &ReadResult{Lines: make([]Line, 0, len(rows))}
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		res.Total++
		line, ok := r.parseRow(cols, row)
		if !ok {
			res.Skipped++
			continue
		}
		res.Lines = append(res.Lines, line)
	}
	return res, nil
}

func (r *Reader) parseRow(cols map[Field]int, row []string) (Line, bool) {
	get := func(f Field) string {
		idx, ok := cols[f]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	line := Line{
		OrderID:     get(FieldOrderID),
		ProductCode: get(FieldProductCode),
		ProductName: get(FieldProductName),
		Category:    get(FieldCategory),
		Channel:     get(FieldChannel),
	}
	if line.ProductCode == "" && line.ProductName == "" {
		return Line{}, false
	}

	qty, ok := ParseNumber(get(FieldQuantity))
	if !ok {
		return Line{}, false
	}
	line.Quantity = qty

	revenue, ok := ParseNumber(get(FieldRevenue))
	if !ok {
		unit, unitOK := ParseNumber(get(FieldUnitPrice))
		if !unitOK {
			return Line{}, false
		}
		revenue = money.New(unit).Mul(qty).ToFloat()
	}
	line.Revenue = revenue

	cost, ok := ParseNumber(get(FieldCost))
	if !ok {
		unit, unitOK := ParseNumber(get(FieldUnitCost))
		if !unitOK {
			return Line{}, false
		}
		cost = money.New(unit).Mul(qty).ToFloat()
	}
	line.Cost = cost

	if lp, ok := ParseNumber(get(FieldListPrice)); ok {
		line.ListPrice = lp
	}
	if ts := get(FieldOrderTime); ts != "" {
		line.OrderTime, _ = r.parseTime(ts)
	}
	return line, true
}

func (r *Reader) parseTime(s string) (time.Time, bool) {
	for _, layout := range r.TimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// Excel 序列日期
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseNumber 解析金额或数量，容忍前导货币符号与千分位逗号.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "¥￥$")
	if s == "" {
		return 0, false
	}
	m, err := money.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return m.ToFloat(), true
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
