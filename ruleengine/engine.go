// Package ruleengine 基于 expr-lang 的表达式规则引擎，用于配置可阻止调价的守卫规则.
package ruleengine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/wyfcoding/pricing/xerrors"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Facts 规则表达式可访问的商品事实，字段名即表达式中的变量名.
type Facts struct {
	Key        string  `expr:"key"`
	Category   string  `expr:"category"`
	Channel    string  `expr:"channel"`
	Segment    string  `expr:"segment"`
	Price      float64 `expr:"price"`
	ListPrice  float64 `expr:"list_price"`
	UnitCost   float64 `expr:"unit_cost"`
	ProfitRate float64 `expr:"profit_rate"`
	Velocity   float64 `expr:"velocity"`
	Quantity   float64 `expr:"quantity"`
	Floor      float64 `expr:"floor"`
	Ceiling    float64 `expr:"ceiling"`
	BelowFloor bool    `expr:"below_floor"`
	Elasticity float64 `expr:"elasticity"`
}

// Result 规则执行结果
type Result struct {
	RuleID   string         `json:"rule_id"`
	Passed   bool           `json:"passed"`   // 表达式是否判定为 true
	Metadata map[string]any `json:"metadata"` // 命中后关联的元数据
}

// Rule 规则定义
type Rule struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Expression string         `json:"expression"` // DSL 表达式，结果必须为 bool
	Metadata   map[string]any `json:"metadata"`   // 附加属性
	Priority   int            `json:"priority"`   // 优先级，越大越先执行
}

type compiled struct {
	rule    Rule
	program *vm.Program
}

// Engine 核心引擎
type Engine struct {
	mu    sync.RWMutex
	rules []compiled // 按优先级降序、ID 升序
}

func NewEngine() *Engine {
	return &Engine{}
}

// NewGuardEngine 将表达式列表编译为守卫规则，规则 ID 为 guard-<序号>，按配置顺序执行.
func NewGuardEngine(expressions []string) (*Engine, error) {
	e := NewEngine()
	for i, exp := range expressions {
		if strings.TrimSpace(exp) == "" {
			continue
		}
		r := Rule{ID: guardID(i), Name: exp, Expression: exp, Priority: len(expressions) - i}
		if err := e.AddRule(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func guardID(i int) string {
	return fmt.Sprintf("guard-%03d", i)
}

// AddRule 添加或更新规则，表达式在加入时按 Facts 做类型检查.
func (e *Engine) AddRule(r Rule) error {
	program, err := expr.Compile(r.Expression, expr.Env(Facts{}), expr.AsBool())
	if err != nil {
		return xerrors.Configuration("failed to compile rule [%s]: %v", r.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = slices.DeleteFunc(e.rules, func(c compiled) bool { return c.rule.ID == r.ID })
	e.rules = append(e.rules, compiled{rule: r, program: program})
	slices.SortStableFunc(e.rules, func(a, b compiled) int {
		if a.rule.Priority != b.rule.Priority {
			return b.rule.Priority - a.rule.Priority
		}
		return strings.Compare(a.rule.ID, b.rule.ID)
	})
	return nil
}

// Len 规则数量.
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Execute 针对单条规则执行
func (e *Engine) Execute(_ context.Context, ruleID string, facts Facts) (*Result, error) {
	e.mu.RLock()
	idx := slices.IndexFunc(e.rules, func(c compiled) bool { return c.rule.ID == ruleID })
	var c compiled
	if idx >= 0 {
		c = e.rules[idx]
	}
	e.mu.RUnlock()

	if idx < 0 {
		return nil, xerrors.ErrProductNotFound.Derive("rule [%s] not found", ruleID)
	}
	passed, err := run(c, facts)
	if err != nil {
		return nil, err
	}
	return &Result{RuleID: ruleID, Passed: passed, Metadata: c.rule.Metadata}, nil
}

// ExecuteAll 按优先级执行所有规则，返回命中的规则；执行出错的规则视为未命中.
func (e *Engine) ExecuteAll(_ context.Context, facts Facts) ([]*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var results []*Result
	for _, c := range e.rules {
		passed, err := run(c, facts)
		if err != nil || !passed {
			continue
		}
		results = append(results, &Result{RuleID: c.rule.ID, Passed: true, Metadata: c.rule.Metadata})
	}
	return results, nil
}

// FirstMatch 返回第一条命中的规则，没有命中时返回 nil.
func (e *Engine) FirstMatch(ctx context.Context, facts Facts) (*Rule, error) {
	if e == nil {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, c := range e.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		passed, err := run(c, facts)
		if err != nil {
			return nil, err
		}
		if passed {
			r := c.rule
			return &r, nil
		}
	}
	return nil, nil
}

func run(c compiled, facts Facts) (bool, error) {
	output, err := expr.Run(c.program, facts)
	if err != nil {
		return false, xerrors.WrapInternal(err, "execution error on rule ["+c.rule.ID+"]")
	}
	passed, _ := output.(bool)
	return passed, nil
}
