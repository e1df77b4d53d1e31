// Package bounds 计算商品的保本价（含平台费率）与上限价，所有调价操作都受其约束.
package bounds

import (
	"github.com/wyfcoding/pricing/money"
	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/xerrors"
)

// PriceBounds 单个商品的价格区间.
type PriceBounds struct {
	Key     string  `json:"key"`
	Floor   float64 `json:"floor_price"`   // 保本价 = 单位成本 / (1 - 平台费率)，不含营销费用
	Ceiling float64 `json:"ceiling_price"` // max(标价, 实收价)
	// BelowFloor 当前实收价低于保本价，处于亏损状态.
	BelowFloor bool `json:"below_floor"`
}

// Contains 判断价格是否落在 [Floor, Ceiling] 内，允许 tol 的浮点误差.
func (b PriceBounds) Contains(price, tol float64) bool {
	return price >= b.Floor-tol && price <= b.Ceiling+tol
}

// Clamp 将价格约束到区间内.
func (b PriceBounds) Clamp(price float64) float64 {
	return min(max(price, b.Floor), b.Ceiling)
}

// ValidateFeeRate 平台费率必须位于 [0, 1).
func ValidateFeeRate(feeRate float64) error {
	if feeRate < 0 || feeRate >= 1 {
		return xerrors.Configuration("platform fee rate must be in [0,1), got %v", feeRate)
	}
	return nil
}

// FloorPrice 计算真实保本价。
func FloorPrice(unitCost, feeRate float64) float64 {
	return money.New(unitCost).Div(1 - feeRate).ToFloat()
}

// Compute 计算单个商品的价格区间。
// 成本非正或保本价高于上限价时返回 ErrDegenerateBounds，商品应被排除而不是被强制修正。
func Compute(agg order.ProductAggregate, feeRate float64) (PriceBounds, error) {
	if err := ValidateFeeRate(feeRate); err != nil {
		return PriceBounds{}, err
	}
	if agg.UnitCost <= 0 {
		return PriceBounds{}, xerrors.DegenerateBounds(agg.Key, order.ReasonNonPositiveCost)
	}

	b := PriceBounds{
		Key:     agg.Key,
		Floor:   FloorPrice(agg.UnitCost, feeRate),
		Ceiling: max(agg.ListPrice, agg.RealizedPrice),
	}
	if b.Floor > b.Ceiling {
		return PriceBounds{}, xerrors.DegenerateBounds(agg.Key, order.ReasonFloorAboveCeiling).
			WithContext("floor", b.Floor).
			WithContext("ceiling", b.Ceiling)
	}
	b.BelowFloor = agg.RealizedPrice < b.Floor
	return b, nil
}

// ComputeAll 批量计算价格区间；单个商品的退化只产生排除记录，不中断整批计算.
func ComputeAll(aggs []order.ProductAggregate, feeRate float64) (map[string]PriceBounds, []order.Exclusion, error) {
	if err := ValidateFeeRate(feeRate); err != nil {
		return nil, nil, err
	}
	out := make(map[string]PriceBounds, len(aggs))
	var excluded []order.Exclusion
	for _, a := range aggs {
		b, err := Compute(a, feeRate)
		if err != nil {
			excluded = append(excluded, order.Exclusion{
				Key:    a.Key,
				Name:   a.DisplayName,
				Reason: xerrors.ReasonOf(err),
				Detail: err.Error(),
			})
			continue
		}
		out[a.Key] = b
	}
	order.SortExclusions(excluded)
	return out, excluded, nil
}
