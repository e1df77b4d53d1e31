// Package report 将调价方案、分类结果与排除清单导出为 XLSX 或 CSV，供运营人员查看.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/wyfcoding/pricing/money"
	"github.com/wyfcoding/pricing/optimizer"
	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/segment"
	"github.com/wyfcoding/pricing/xerrors"
)

// Table 一张导出表，对应 XLSX 中的一个工作表.
type Table struct {
	Sheet   string
	Headers []string
	Rows    [][]any
}

// PlanTable 调价方案表，只包含参与优化的商品.
func PlanTable(res *optimizer.Result) Table {
	t := Table{
		Sheet: "plans",
		Headers: []string{
			"key", "name", "category", "current_price", "new_price", "rate_change_pct",
			"floor_price", "ceiling_price", "elasticity", "current_quantity", "new_quantity",
			"current_profit", "new_profit", "hit_floor", "hit_ceiling", "rate_limited", "fixed",
		},
	}
	for _, p := range res.Plans {
		t.Rows = append(t.Rows, []any{
			p.Key, p.DisplayName, p.Category,
			money.RoundPrice(p.CurrentPrice), money.RoundPrice(p.NewPrice), pct(p.RateChange),
			money.RoundPrice(p.Floor), money.RoundPrice(p.Ceiling), round(p.Elasticity, 4),
			round(p.CurrentQuantity, 2), round(p.NewQuantity, 2),
			money.RoundPrice(p.CurrentProfit), money.RoundPrice(p.NewProfit),
			p.HitFloor, p.HitCeiling, p.RateLimited, p.Fixed,
		})
	}
	return t
}

// SummaryTable 优化结果汇总.
func SummaryTable(res *optimizer.Result) Table {
	return Table{
		Sheet:   "summary",
		Headers: []string{"metric", "value"},
		Rows: [][]any{
			{"run_id", res.RunID},
			{"goal_type", string(res.Goal.Type)},
			{"goal_value", res.Goal.Value},
			{"solver", res.Solver},
			{"status", string(res.Status)},
			{"current_total_profit", money.RoundPrice(res.CurrentTotalProfit)},
			{"target_total_profit", money.RoundPrice(res.TargetTotalProfit)},
			{"achieved_total_profit", money.RoundPrice(res.AchievedTotalProfit)},
			{"achievement_ratio", round(res.AchievementRatio, 4)},
			{"shortfall", money.RoundPrice(res.Shortfall)},
			{"infeasible", res.Infeasible},
		},
	}
}

// SegmentRow 分类结果的一行.
type SegmentRow struct {
	Key              string
	Name             string
	Category         string
	Label            segment.Label
	Reason           string
	ProfitRate       float64
	Velocity         float64
	Quantity         float64
	Profit           float64
	Elasticity       float64
	ElasticitySource string
}

// SegmentTable 商品分类表.
func SegmentTable(rows []SegmentRow) Table {
	t := Table{
		Sheet: "segments",
		Headers: []string{
			"key", "name", "category", "segment", "reason", "profit_rate_pct",
			"velocity_index", "quantity", "profit", "elasticity", "elasticity_source",
		},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{
			r.Key, r.Name, r.Category, string(r.Label), r.Reason, round(r.ProfitRate, 2),
			round(r.Velocity, 4), round(r.Quantity, 2), money.RoundPrice(r.Profit),
			round(r.Elasticity, 4), r.ElasticitySource,
		})
	}
	return t
}

// ExclusionTable 排除清单.
func ExclusionTable(ex []order.Exclusion) Table {
	t := Table{Sheet: "exclusions", Headers: []string{"key", "name", "reason", "detail"}}
	for _, e := range ex {
		t.Rows = append(t.Rows, []any{e.Key, e.Name, e.Reason, e.Detail})
	}
	return t
}

// WriteXLSX 将每张表写为一个工作表.
func WriteXLSX(w io.Writer, tables ...Table) error {
	if len(tables) == 0 {
		return xerrors.ErrEmptyData.Derive("no tables to export")
	}
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return xerrors.WrapInternal(err, "failed to create header style")
	}

	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), t.Sheet); err != nil {
				return xerrors.WrapInternal(err, "failed to rename sheet")
			}
		} else if _, err := f.NewSheet(t.Sheet); err != nil {
			return xerrors.WrapInternal(err, "failed to create sheet "+t.Sheet)
		}
		if err := writeSheet(f, t, header); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return xerrors.WrapInternal(err, "failed to write Excel file")
	}
	return nil
}

func writeSheet(f *excelize.File, t Table, headerStyle int) error {
	headers := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		headers[i] = h
	}
	if err := f.SetSheetRow(t.Sheet, "A1", &headers); err != nil {
		return xerrors.WrapInternal(err, "failed to write header of "+t.Sheet)
	}
	if len(t.Headers) > 0 {
		last, err := excelize.CoordinatesToCellName(len(t.Headers), 1)
		if err != nil {
			return xerrors.WrapInternal(err, "invalid header width")
		}
		if err := f.SetCellStyle(t.Sheet, "A1", last, headerStyle); err != nil {
			return xerrors.WrapInternal(err, "failed to style header of "+t.Sheet)
		}
	}

	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return xerrors.WrapInternal(err, "invalid row index")
		}
		if err := f.SetSheetRow(t.Sheet, cell, &row); err != nil {
			return xerrors.WrapInternal(err, fmt.Sprintf("failed to write row %d of %s", i+2, t.Sheet))
		}
	}
	return nil
}

// WriteCSV 写出单张表，首行为表头.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return xerrors.WrapInternal(err, "failed to write CSV header")
	}
	record := make([]string, len(t.Headers))
	for _, row := range t.Rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, cellString(v))
		}
		if err := cw.Write(record); err != nil {
			return xerrors.WrapInternal(err, "failed to write CSV row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return xerrors.WrapInternal(err, "failed to flush CSV")
	}
	return nil
}

// SaveFile 按扩展名写出文件；CSV 只能容纳一张表.
func SaveFile(path string, tables ...Table) error {
	format, err := order.FormatFromPath(path)
	if err != nil {
		return err
	}
	if format == order.FormatCSV && len(tables) != 1 {
		return xerrors.ErrUnsupportedFormat.Derive("csv export holds exactly one table, got %d", len(tables))
	}

	f, err := os.Create(path)
	if err != nil {
		return xerrors.WrapInternal(err, "failed to create export file")
	}
	if format == order.FormatCSV {
		err = WriteCSV(f, tables[0])
	} else {
		err = WriteXLSX(f, tables...)
	}
	if errClose := f.Close(); err == nil && errClose != nil {
		err = xerrors.WrapInternal(errClose, "failed to close export file")
	}
	return err
}

func cellString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func pct(rate float64) float64 {
	return round(rate*100, 2)
}

func round(v float64, places int32) float64 {
	return money.New(v).Round(places).ToFloat()
}
