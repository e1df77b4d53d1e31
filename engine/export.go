package engine

import (
	"github.com/wyfcoding/pricing/optimizer"
	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/report"
)

// SegmentRows 汇总分类、指标与弹性，供导出使用.
func (a *Analysis) SegmentRows() []report.SegmentRow {
	rows := make([]report.SegmentRow, 0, len(a.Segments))
	for _, s := range a.Segments {
		agg := a.index[s.Key]
		est := a.Elasticities[s.Key]
		rows = append(rows, report.SegmentRow{
			Key:              s.Key,
			Name:             agg.DisplayName,
			Category:         agg.Category,
			Label:            s.Label,
			Reason:           s.Reason,
			ProfitRate:       agg.ProfitRate,
			Velocity:         agg.VelocityIndex,
			Quantity:         agg.QuantitySold,
			Profit:           agg.Profit,
			Elasticity:       est.Coefficient,
			ElasticitySource: string(est.Source),
		})
	}
	return rows
}

// ExportAnalysis 导出分类表与排除清单；CSV 只导出分类表.
func ExportAnalysis(path string, a *Analysis) error {
	segments := report.SegmentTable(a.SegmentRows())
	if isCSV(path) {
		return report.SaveFile(path, segments)
	}
	return report.SaveFile(path, segments, report.ExclusionTable(a.Exclusions))
}

// ExportPlan 导出优化结果；CSV 只导出方案表.
func ExportPlan(path string, res *optimizer.Result) error {
	plans := report.PlanTable(res)
	if isCSV(path) {
		return report.SaveFile(path, plans)
	}
	return report.SaveFile(path, report.SummaryTable(res), plans, report.ExclusionTable(res.Exclusions))
}

func isCSV(path string) bool {
	f, err := order.FormatFromPath(path)
	return err == nil && f == order.FormatCSV
}
