package memory

import (
	"context"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// CustomerRepository: in-memory справочник клиентов.
type CustomerRepository struct {
	acc accessor
}

// FindByID возвращает клиента или ErrCustomerNotFound.
func (r *CustomerRepository) FindByID(ctx context.Context, id string) (domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Customer{}, err
	}

	var customer domain.Customer
	err := r.acc.read(func(st *state) error {
		found, ok := st.customers[id]
		if !ok {
			return domain.ErrCustomerNotFound
		}
		customer = found
		return nil
	})
	return customer, err
}

var _ domain.CustomerDirectory = (*CustomerRepository)(nil)
