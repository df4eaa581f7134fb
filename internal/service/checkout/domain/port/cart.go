package port

import (
	"context"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type Cart struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customerId"`
	Currency   string     `json:"currency"`
	Items      []CartItem `json:"items"`
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CartService 是购物车上下文对结账暴露的能力
type CartService interface {
	GetCart(ctx context.Context, cartID string) (*Cart, error)
	ClearCart(ctx context.Context, cartID string) error
}

type CustomerReader interface {
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
}
