package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/logging"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/validation"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryExists   = errors.New("category already exists")
)

type ProductRepository interface {
	List(ctx context.Context, f store.ProductFilter, page, limit int64) ([]models.Product, int64, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, error)
	GetBySlug(ctx context.Context, slug string) (*models.Product, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) ([]models.Product, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	Create(ctx context.Context, p *models.Product) error
	Update(ctx context.Context, p *models.Product) error
	SoftDelete(ctx context.Context, id primitive.ObjectID) error
}

type CategoryRepository interface {
	List(ctx context.Context, isActive *bool) ([]models.Category, error)
	ExistsByName(ctx context.Context, name string, exclude *primitive.ObjectID) (bool, error)
	Create(ctx context.Context, category *models.Category) error
	Update(ctx context.Context, id primitive.ObjectID, name *string, isActive *bool) (*models.Category, error)
	Deactivate(ctx context.Context, id primitive.ObjectID) error
}

// ProductInput carries an admin create or update. Nil fields are left unchanged on update.
type ProductInput struct {
	Name          *string   `json:"name"`
	Description   *string   `json:"description"`
	Brand         *string   `json:"brand"`
	Category      *string   `json:"category"`
	Images        *[]string `json:"images"`
	Price         *float64  `json:"price"`
	DiscountPrice *float64  `json:"discountPrice"`
	Stock         *int      `json:"stock"`
	IsFeatured    *bool     `json:"isFeatured"`
	IsActive      *bool     `json:"isActive"`
}

type Service struct {
	products   ProductRepository
	categories CategoryRepository
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(products ProductRepository, categories CategoryRepository, logger *slog.Logger) *Service {
	return &Service{products: products, categories: categories, logger: logger, now: time.Now}
}

func (s *Service) ListProducts(ctx context.Context, f store.ProductFilter, page, limit int64) ([]models.Product, int64, error) {
	return s.products.List(ctx, f, page, limit)
}

// GetProduct resolves idOrSlug as an ObjectID first, then as a slug.
// Inactive products are only returned when includeInactive is set.
func (s *Service) GetProduct(ctx context.Context, idOrSlug string, includeInactive bool) (*models.Product, error) {
	var (
		product *models.Product
		err     error
	)
	if id, parseErr := primitive.ObjectIDFromHex(idOrSlug); parseErr == nil {
		product, err = s.products.GetByID(ctx, id)
	} else {
		product, err = s.products.GetBySlug(ctx, strings.ToLower(strings.TrimSpace(idOrSlug)))
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if !product.IsActive && !includeInactive {
		return nil, ErrProductNotFound
	}
	return product, nil
}

// GetProducts returns the products among ids, ordered as ids. Missing ids are skipped.
func (s *Service) GetProducts(ctx context.Context, ids []primitive.ObjectID) ([]models.Product, error) {
	found, err := s.products.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]models.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	ordered := make([]models.Product, 0, len(found))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	now := s.now()
	product := &models.Product{IsActive: true, CreatedAt: now}
	applyProductInput(product, in)
	product.UpdatedAt = now

	if err := validateProduct(product); err != nil {
		return nil, err
	}

	slug, err := uniqueSlug(ctx, Slugify(product.Name), s.products.SlugExists)
	if err != nil {
		return nil, err
	}
	product.Slug = slug

	if err := s.products.Create(ctx, product); err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.logger).Info("product created",
		slog.String("product_id", product.ID.Hex()),
		slog.String("slug", product.Slug),
	)
	return product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id primitive.ObjectID, in ProductInput) (*models.Product, error) {
	product, err := s.products.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	previousName := product.Name
	applyProductInput(product, in)
	product.UpdatedAt = s.now()

	if err := validateProduct(product); err != nil {
		return nil, err
	}

	if product.Name != previousName {
		base := Slugify(product.Name)
		if base != product.Slug {
			slug, err := uniqueSlug(ctx, base, s.products.SlugExists)
			if err != nil {
				return nil, err
			}
			product.Slug = slug
		}
	}

	if err := s.products.Update(ctx, product); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id primitive.ObjectID) error {
	err := s.products.SoftDelete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrProductNotFound
	}
	if err == nil {
		logging.FromContext(ctx, s.logger).Info("product deleted", slog.String("product_id", id.Hex()))
	}
	return err
}

// ListCategories returns active categories, or all of them when includeInactive is set.
func (s *Service) ListCategories(ctx context.Context, includeInactive bool) ([]models.Category, error) {
	if includeInactive {
		return s.categories.List(ctx, nil)
	}
	active := true
	return s.categories.List(ctx, &active)
}

func (s *Service) CreateCategory(ctx context.Context, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validation.New("name is required")
	}

	exists, err := s.categories.ExistsByName(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrCategoryExists
	}

	now := s.now()
	category := &models.Category{
		Name:      name,
		Slug:      Slugify(name),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.categories.Create(ctx, category); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrCategoryExists
		}
		return nil, err
	}
	return category, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id primitive.ObjectID, name *string, isActive *bool) (*models.Category, error) {
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return nil, validation.New("name is required")
		}
		exists, err := s.categories.ExistsByName(ctx, trimmed, &id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrCategoryExists
		}
		name = &trimmed
	}

	category, err := s.categories.Update(ctx, id, name, isActive)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrCategoryNotFound
	case errors.Is(err, store.ErrDuplicate):
		return nil, ErrCategoryExists
	}
	return category, err
}

func (s *Service) DeactivateCategory(ctx context.Context, id primitive.ObjectID) error {
	err := s.categories.Deactivate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrCategoryNotFound
	}
	return err
}

func applyProductInput(p *models.Product, in ProductInput) {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.Brand != nil {
		p.Brand = strings.TrimSpace(*in.Brand)
	}
	if in.Category != nil {
		p.Category = strings.TrimSpace(*in.Category)
	}
	if in.Images != nil {
		images := make(models.StringList, 0, len(*in.Images))
		for _, img := range *in.Images {
			if trimmed := strings.TrimSpace(img); trimmed != "" {
				images = append(images, trimmed)
			}
		}
		p.Images = images
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.DiscountPrice != nil {
		p.DiscountPrice = *in.DiscountPrice
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.IsFeatured != nil {
		p.IsFeatured = *in.IsFeatured
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	p.Decorate()
}

func validateProduct(p *models.Product) error {
	var v validation.Collector
	v.Check(p.Name != "", "name is required")
	v.Check(p.Category != "", "category is required")
	v.Check(p.Price > 0, "price must be greater than zero")
	v.Check(p.Stock >= 0, "stock cannot be negative")
	v.Check(p.DiscountPrice >= 0, "discountPrice cannot be negative")
	v.Check(p.DiscountPrice == 0 || p.DiscountPrice < p.Price, "discountPrice must be lower than price")
	for _, img := range p.Images {
		v.Check(validation.IsHTTPURL(img), "image %q must be an http(s) URL", img)
	}
	return v.Err()
}
