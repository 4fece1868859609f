package handlers

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/account"
	"storefront/internal/auth"
	"storefront/internal/catalog"
	"storefront/internal/delivery"
	"storefront/internal/models"
	"storefront/internal/orders"
	"storefront/internal/payments/mpesa"
	"storefront/internal/store"
)

const requestTimeout = 10 * time.Second

type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Refresh(ctx context.Context, plain string) (*auth.Session, error)
	Logout(ctx context.Context, plain string) error
	Me(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	UpdateProfile(ctx context.Context, userID primitive.ObjectID, name, phone *string) (*models.User, error)
}

type CatalogService interface {
	ListProducts(ctx context.Context, f store.ProductFilter, page, limit int64) ([]models.Product, int64, error)
	GetProduct(ctx context.Context, idOrSlug string, includeInactive bool) (*models.Product, error)
	CreateProduct(ctx context.Context, in catalog.ProductInput) (*models.Product, error)
	UpdateProduct(ctx context.Context, id primitive.ObjectID, in catalog.ProductInput) (*models.Product, error)
	DeleteProduct(ctx context.Context, id primitive.ObjectID) error
	ListCategories(ctx context.Context, includeInactive bool) ([]models.Category, error)
	CreateCategory(ctx context.Context, name string) (*models.Category, error)
	UpdateCategory(ctx context.Context, id primitive.ObjectID, name *string, isActive *bool) (*models.Category, error)
	DeactivateCategory(ctx context.Context, id primitive.ObjectID) error
}

type DeliveryService interface {
	Counties(ctx context.Context) ([]string, error)
	SubCounties(ctx context.Context, county string) ([]string, error)
	Locations(ctx context.Context, county, subCounty string) ([]models.DeliveryLocation, error)
	ResolveFee(ctx context.Context, county, subCounty, location string) (float64, error)
	List(ctx context.Context, f store.DeliveryFilter, page, limit int64) ([]models.DeliveryLocation, int64, error)
	Create(ctx context.Context, in delivery.LocationInput) (*models.DeliveryLocation, error)
	Update(ctx context.Context, id primitive.ObjectID, in delivery.LocationInput) (*models.DeliveryLocation, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type OrderService interface {
	MethodEnabled(method string) bool
	PlaceOrder(ctx context.Context, in orders.PlaceOrderInput) (*orders.PlaceOrderResult, error)
	GetOrder(ctx context.Context, id primitive.ObjectID, viewer orders.Viewer) (*models.Order, error)
	ListMine(ctx context.Context, userID primitive.ObjectID, page, limit int64) ([]models.Order, int64, error)
	CancelByCustomer(ctx context.Context, id primitive.ObjectID, viewer orders.Viewer, reason string) (*models.Order, error)
	CapturePayPal(ctx context.Context, id primitive.ObjectID, viewer orders.Viewer, paypalOrderID string) (*models.Order, error)
	RetryMpesa(ctx context.Context, id primitive.ObjectID, viewer orders.Viewer, phone string) (*orders.PlaceOrderResult, error)
	HandleMpesaCallback(ctx context.Context, cb *mpesa.CallbackResult) error

	ListAll(ctx context.Context, f store.OrderFilter, page, limit int64) ([]models.Order, int64, error)
	UpdateStatus(ctx context.Context, id primitive.ObjectID, target, note string) (*models.Order, error)
	UpdatePayment(ctx context.Context, id primitive.ObjectID, target, note string) (*models.Order, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	Stats(ctx context.Context) (*store.OrderStats, error)
}

type AccountService interface {
	Wishlist(ctx context.Context, userID primitive.ObjectID) ([]models.Product, error)
	AddToWishlist(ctx context.Context, userID, productID primitive.ObjectID) error
	RemoveFromWishlist(ctx context.Context, userID, productID primitive.ObjectID) error
	Addresses(ctx context.Context, userID primitive.ObjectID) ([]models.Address, error)
	CreateAddress(ctx context.Context, userID primitive.ObjectID, in account.AddressInput) (*models.Address, error)
	UpdateAddress(ctx context.Context, userID primitive.ObjectID, addressID string, in account.AddressInput) (*models.Address, error)
	DeleteAddress(ctx context.Context, userID primitive.ObjectID, addressID string) error
}

var (
	_ AuthService     = (*auth.Service)(nil)
	_ CatalogService  = (*catalog.Service)(nil)
	_ DeliveryService = (*delivery.Service)(nil)
	_ OrderService    = (*orders.Service)(nil)
	_ AccountService  = (*account.Service)(nil)
)
