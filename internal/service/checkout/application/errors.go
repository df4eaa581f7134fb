package application

import "github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"

// wrap 保留领域错误原样（其消息直接面向用户），其余错误补充用例名。
func wrap(useCase string, err error) error {
	if err == nil || domain.IsDomainError(err) {
		return err
	}
	return domain.WrapUseCase(useCase, err)
}
