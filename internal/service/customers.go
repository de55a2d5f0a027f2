package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/repository"
)

type Customers struct {
	store repository.CustomerStore
}

func NewCustomers(store repository.CustomerStore) *Customers {
	return &Customers{store: store}
}

// NormalizePhone keeps the digits of phone.  Numbers shorter than ten
// digits (area code included) are rejected.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	p := b.String()
	if len(p) < 10 || len(p) > 15 {
		return "", ErrInvalidPhone
	}
	return p, nil
}

// Upsert registers a customer by phone or refreshes an existing one.
func (s *Customers) Upsert(ctx context.Context, phone, name, pixKey string) (model.Customer, error) {
	p, err := NormalizePhone(phone)
	if err != nil {
		return model.Customer{}, err
	}
	c := model.Customer{Phone: p, Name: strings.TrimSpace(name), PixKey: strings.TrimSpace(pixKey)}
	if err := s.store.UpsertCustomer(ctx, &c); err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

// BuyerRef is the opaque buyer identity stored on orders.
func BuyerRef(c model.Customer) string {
	return fmt.Sprintf("cust:%d", c.ID)
}
