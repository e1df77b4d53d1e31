package ruleengine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/pricing/xerrors"
)

func TestGuardEngineFirstMatch(t *testing.T) {
	e, err := NewGuardEngine([]string{
		`segment == "STRATEGIC_ATTRACTION"`,
		"",
		`below_floor && quantity > 100`,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, e.Len())

	ctx := context.Background()
	r, err := e.FirstMatch(ctx, Facts{Segment: "STRATEGIC_ATTRACTION"})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "guard-000", r.ID)

	r, err = e.FirstMatch(ctx, Facts{Segment: "STAR", BelowFloor: true, Quantity: 200})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "guard-002", r.ID)

	r, err = e.FirstMatch(ctx, Facts{Segment: "STAR", Quantity: 200})
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestCompileErrorsAreConfigurationErrors(t *testing.T) {
	_, err := NewGuardEngine([]string{`price +`})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrConfiguration))

	// 非 bool 表达式在编译期被拒绝
	_, err = NewGuardEngine([]string{`price * 2`})
	assert.Error(t, err)

	// 未知变量
	_, err = NewGuardEngine([]string{`margin > 1`})
	assert.Error(t, err)
}

func TestExecuteAndExecuteAll(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.AddRule(Rule{ID: "low", Expression: "profit_rate < 10", Priority: 1}))
	require.NoError(t, e.AddRule(Rule{ID: "cheap", Expression: "price < floor", Priority: 5, Metadata: map[string]any{"action": "block"}}))

	ctx := context.Background()
	facts := Facts{ProfitRate: 5, Price: 1, Floor: 2}

	res, err := e.Execute(ctx, "cheap", facts)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "block", res.Metadata["action"])

	_, err = e.Execute(ctx, "missing", facts)
	assert.Error(t, err)

	all, err := e.ExecuteAll(ctx, facts)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "cheap", all[0].RuleID)

	// 重复 ID 覆盖旧规则
	require.NoError(t, e.AddRule(Rule{ID: "cheap", Expression: "false", Priority: 5}))
	all, err = e.ExecuteAll(ctx, facts)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "low", all[0].RuleID)
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	assert.Zero(t, e.Len())
	r, err := e.FirstMatch(context.Background(), Facts{})
	assert.NoError(t, err)
	assert.Nil(t, r)
}
