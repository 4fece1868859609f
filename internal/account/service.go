// Package account manages a customer's wishlist and address book.
package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/logging"
	"storefront/internal/models"
	"storefront/internal/orders"
	"storefront/internal/store"
	"storefront/internal/validation"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrProductNotFound = errors.New("product not found")
	ErrAddressNotFound = errors.New("address not found")
)

const maxAddresses = 20

type UserRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	SetAddresses(ctx context.Context, id primitive.ObjectID, addresses []models.Address) error
	AddToWishlist(ctx context.Context, userID, productID primitive.ObjectID) error
	RemoveFromWishlist(ctx context.Context, userID, productID primitive.ObjectID) error
}

type ProductRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) ([]models.Product, error)
}

type Service struct {
	users    UserRepository
	products ProductRepository
	logger   *slog.Logger
}

func NewService(users UserRepository, products ProductRepository, logger *slog.Logger) *Service {
	return &Service{users: users, products: products, logger: logger}
}

// Wishlist returns saved products in the order they were added. Products that
// were deleted or deactivated since are left out.
func (s *Service) Wishlist(ctx context.Context, userID primitive.ObjectID) ([]models.Product, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	found, err := s.products.GetMany(ctx, user.Wishlist)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]models.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	out := make([]models.Product, 0, len(user.Wishlist))
	for _, id := range user.Wishlist {
		if p, ok := byID[id]; ok && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) AddToWishlist(ctx context.Context, userID, productID primitive.ObjectID) error {
	p, err := s.products.GetByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (p.IsDeleted || !p.IsActive)) {
		return ErrProductNotFound
	}
	if err != nil {
		return err
	}

	if err := s.users.AddToWishlist(ctx, userID, productID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (s *Service) RemoveFromWishlist(ctx context.Context, userID, productID primitive.ObjectID) error {
	err := s.users.RemoveFromWishlist(ctx, userID, productID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

type AddressInput struct {
	Label     string `json:"label"`
	FullName  string `json:"fullName" binding:"required"`
	Phone     string `json:"phone" binding:"required"`
	County    string `json:"county" binding:"required"`
	SubCounty string `json:"subCounty" binding:"required"`
	Location  string `json:"location" binding:"required"`
	Address   string `json:"address" binding:"required"`
	Notes     string `json:"notes"`
	IsDefault bool   `json:"isDefault"`
}

func (in AddressInput) toAddress() (models.Address, error) {
	a := models.Address{
		Label:     strings.TrimSpace(in.Label),
		FullName:  strings.TrimSpace(in.FullName),
		County:    strings.TrimSpace(in.County),
		SubCounty: strings.TrimSpace(in.SubCounty),
		Location:  strings.TrimSpace(in.Location),
		Address:   strings.TrimSpace(in.Address),
		Notes:     strings.TrimSpace(in.Notes),
		IsDefault: in.IsDefault,
	}

	var v validation.Collector
	v.Check(a.FullName != "", "fullName is required")
	v.Check(a.County != "", "county is required")
	v.Check(a.SubCounty != "", "subCounty is required")
	v.Check(a.Location != "", "location is required")
	v.Check(a.Address != "", "address is required")
	phone, err := orders.NormalizePhone(in.Phone)
	v.Check(err == nil, "phone is invalid")
	a.Phone = phone

	return a, v.Err()
}

func (s *Service) Addresses(ctx context.Context, userID primitive.ObjectID) ([]models.Address, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Addresses == nil {
		return []models.Address{}, nil
	}
	return user.Addresses, nil
}

// CreateAddress appends an address. The first saved address becomes the default.
func (s *Service) CreateAddress(ctx context.Context, userID primitive.ObjectID, in AddressInput) (*models.Address, error) {
	address, err := in.toAddress()
	if err != nil {
		return nil, err
	}
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(user.Addresses) >= maxAddresses {
		return nil, validation.New("at most %d addresses can be saved", maxAddresses)
	}

	address.ID = uuid.NewString()
	addresses := append(user.Addresses, address)
	if len(addresses) == 1 {
		addresses[0].IsDefault = true
	}
	addresses = withDefault(addresses, address.ID)

	if err := s.save(ctx, userID, addresses); err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.logger).Info("address created", slog.String("address_id", address.ID))
	return findAddress(addresses, address.ID), nil
}

func (s *Service) UpdateAddress(ctx context.Context, userID primitive.ObjectID, addressID string, in AddressInput) (*models.Address, error) {
	address, err := in.toAddress()
	if err != nil {
		return nil, err
	}
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	addresses := user.Addresses
	existing := findAddress(addresses, addressID)
	if existing == nil {
		return nil, ErrAddressNotFound
	}
	address.ID = addressID
	// a default address stays default until another one is chosen
	address.IsDefault = address.IsDefault || existing.IsDefault
	*existing = address
	addresses = withDefault(addresses, addressID)

	if err := s.save(ctx, userID, addresses); err != nil {
		return nil, err
	}
	return findAddress(addresses, addressID), nil
}

// DeleteAddress removes an address; when it was the default the first remaining one takes over.
func (s *Service) DeleteAddress(ctx context.Context, userID primitive.ObjectID, addressID string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}

	removed := findAddress(user.Addresses, addressID)
	if removed == nil {
		return ErrAddressNotFound
	}
	wasDefault := removed.IsDefault

	remaining := make([]models.Address, 0, len(user.Addresses))
	for _, a := range user.Addresses {
		if a.ID != addressID {
			remaining = append(remaining, a)
		}
	}
	if wasDefault && len(remaining) > 0 {
		remaining[0].IsDefault = true
	}
	return s.save(ctx, userID, remaining)
}

// withDefault clears every other default flag when id is marked default.
func withDefault(addresses []models.Address, id string) []models.Address {
	chosen := findAddress(addresses, id)
	if chosen == nil || !chosen.IsDefault {
		return addresses
	}
	for i := range addresses {
		addresses[i].IsDefault = addresses[i].ID == id
	}
	return addresses
}

func findAddress(addresses []models.Address, id string) *models.Address {
	for i := range addresses {
		if addresses[i].ID == id {
			return &addresses[i]
		}
	}
	return nil
}

func (s *Service) save(ctx context.Context, userID primitive.ObjectID, addresses []models.Address) error {
	err := s.users.SetAddresses(ctx, userID, addresses)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func (s *Service) user(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}
