package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/httpclient"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
)

// CartHTTPAdapter 实现了 port.CartService 和 port.CustomerReader 接口。
type CartHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewCartHTTPAdapter(client *httpclient.Client, baseURL string) *CartHTTPAdapter {
	return &CartHTTPAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *CartHTTPAdapter) GetCart(ctx context.Context, cartID string) (*port.Cart, error) {
	var cart port.Cart
	if err := a.client.GetJSON(ctx, a.baseURL+"/carts/"+url.PathEscape(cartID), &cart); err != nil {
		return nil, classify(err, "cart.get")
	}
	return &cart, nil
}

// ClearCart 对已不存在的购物车视为成功
func (a *CartHTTPAdapter) ClearCart(ctx context.Context, cartID string) error {
	err := a.client.Delete(ctx, a.baseURL+"/carts/"+url.PathEscape(cartID)+"/items")
	var se *httpclient.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil
	}
	return classify(err, "cart.clear")
}

func (a *CartHTTPAdapter) GetCustomer(ctx context.Context, customerID string) (*port.Customer, error) {
	var c port.Customer
	if err := a.client.GetJSON(ctx, a.baseURL+"/customers/"+url.PathEscape(customerID), &c); err != nil {
		return nil, classify(err, "customer.get")
	}
	return &c, nil
}

// classify 区分下游错误：4xx 是业务错误不重试，其余（网络、5xx、429）可重试
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var se *httpclient.StatusError
	if errors.As(err, &se) && !se.Temporary() {
		return &domain.DomainError{Code: domain.CodeDownstreamRejected, Message: se.Error()}
	}
	return domain.NewRepositoryError(op, err)
}
