package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// CELOrderFilter 用 CEL 表达式筛选清扫候选订单，实现 saga.OrderFilter。
// 表达式里可用的变量是 order，例如：
//
//	order.total < 500.0 && !order.is_cod
//	order.age_minutes > 60 || order.payment_method == "PAYPAL"
type CELOrderFilter struct {
	expr    string
	program cel.Program
}

// NewCELOrderFilter 编译表达式。表达式必须返回 bool。
func NewCELOrderFilter(expr string) (*CELOrderFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("order", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile sweep filter %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("sweep filter %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &CELOrderFilter{expr: expr, program: prg}, nil
}

func (f *CELOrderFilter) Match(ctx context.Context, order *domain.Order, now time.Time) (bool, error) {
	total, _ := order.TotalPrice.Float64()
	out, _, err := f.program.ContextEval(ctx, map[string]any{
		"order": map[string]any{
			"id":             order.ID,
			"status":         string(order.Status),
			"customer_id":    order.CustomerID,
			"payment_method": string(order.PaymentMethod),
			"is_cod":         order.IsCOD(),
			"total":          total,
			"age_minutes":    int64(now.Sub(order.CreatedAt) / time.Minute),
		},
	})
	if err != nil {
		return false, fmt.Errorf("evaluate sweep filter %q: %w", f.expr, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("sweep filter %q returned %T", f.expr, out.Value())
	}
	return matched, nil
}
