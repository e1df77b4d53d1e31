package xerrors

var (
	// ErrConfiguration 配置非法（费率为负、目标毛利率 >= 100 等），在计算开始前直接返回。
	ErrConfiguration = New(ErrInvalidArg, 400101, "invalid configuration", "check pricing configuration", nil)
	// ErrEmptyData 输入数据为空。
	ErrEmptyData = New(ErrInvalidArg, 400102, "empty data", "input data must not be empty", nil)
	// ErrSchemaMismatch 订单明细缺少必需列。
	ErrSchemaMismatch = New(ErrInvalidArg, 400103, "schema mismatch", "required order columns are missing", nil)
	// ErrUnsupportedFormat 不支持的文件格式。
	ErrUnsupportedFormat = New(ErrInvalidArg, 400104, "unsupported format", "supported formats: csv, xlsx", nil)
	// ErrProductNotFound 分析结果中不存在该商品。
	ErrProductNotFound = New(ErrNotFound, 404101, "product not found", "product key is not part of the analysis", nil)
	// ErrInsufficientData 历史数据不足以学习弹性，总是在本地降级处理。
	ErrInsufficientData = New(ErrFailedPrecondition, 412101, "insufficient data", "history shorter than the comparison window", nil)
	// ErrDegenerateBounds 保本价高于上限价或成本非正，商品不参与调价。
	ErrDegenerateBounds = New(ErrFailedPrecondition, 412102, "degenerate price bounds", "floor price exceeds ceiling or cost is non-positive", nil)
	// ErrInfeasibleGoal 即使用满约束也无法达成利润目标，以结果字段形式返回。
	ErrInfeasibleGoal = New(ErrFailedPrecondition, 412103, "infeasible goal", "profit goal cannot be reached within price bounds", nil)
)

// Configuration 派生一个配置错误。
func Configuration(format string, args ...any) *Error {
	return ErrConfiguration.Derive(format, args...)
}

// DegenerateBounds 派生一个带原因码的边界错误。
func DegenerateBounds(productKey, reason string) *Error {
	return ErrDegenerateBounds.Derive("product %s: %s", productKey, reason).
		WithContext("product_key", productKey).
		WithContext("reason", reason)
}

// ReasonOf 提取错误上下文中的原因码，不存在时返回空串。
func ReasonOf(err error) string {
	e, ok := FromError(err)
	if !ok {
		return ""
	}
	if r, ok := e.Context["reason"].(string); ok {
		return r
	}
	return ""
}
