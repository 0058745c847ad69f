package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"staysync/internal/model"
)

// ResolveGuest returns the guest with the given email, creating it when
// missing. An empty email resolves to the shared placeholder guest.
func (s *Store) ResolveGuest(ctx context.Context, name, email string) (*model.Guest, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		email = model.DefaultGuestEmail
		name = "External guest"
	}

	var g model.Guest
	err := s.with(ctx).Where("email = ?", email).First(&g).Error
	if err == nil {
		return &g, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	g = model.Guest{Name: strings.TrimSpace(name), Email: email}
	if err := s.with(ctx).Create(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}
