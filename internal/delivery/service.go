package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/cache"
	"storefront/internal/logging"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/validation"
)

var (
	ErrUnknownLocation  = errors.New("delivery is not available for this location")
	ErrLocationNotFound = errors.New("delivery location not found")
	ErrLocationExists   = errors.New("delivery location already exists")
)

const countiesTTL = 10 * time.Minute

type Repository interface {
	ListCounties(ctx context.Context) ([]string, error)
	ListSubCounties(ctx context.Context, county string) ([]string, error)
	ListLocations(ctx context.Context, county, subCounty string) ([]models.DeliveryLocation, error)
	FindActive(ctx context.Context, county, subCounty, location string) (*models.DeliveryLocation, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.DeliveryLocation, error)
	List(ctx context.Context, f store.DeliveryFilter, page, limit int64) ([]models.DeliveryLocation, int64, error)
	Create(ctx context.Context, loc *models.DeliveryLocation) error
	Update(ctx context.Context, loc *models.DeliveryLocation) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	Upsert(ctx context.Context, loc models.DeliveryLocation) (bool, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// LocationInput is an admin create or update. Nil fields are left unchanged on update.
type LocationInput struct {
	County    *string  `json:"county"`
	SubCounty *string  `json:"subCounty"`
	Location  *string  `json:"location"`
	Fee       *float64 `json:"fee"`
	IsActive  *bool    `json:"isActive"`
}

type SeedResult struct {
	Deleted  int64 `json:"deleted"`
	Inserted int   `json:"inserted"`
	Updated  int   `json:"updated"`
}

type Service struct {
	repo   Repository
	cache  cache.Provider
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, cacheProvider cache.Provider, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cacheProvider, logger: logger, now: time.Now}
}

// Counties lists counties with at least one active location. The list is cached.
func (s *Service) Counties(ctx context.Context) ([]string, error) {
	logger := logging.FromContext(ctx, s.logger)

	if raw, err := s.cache.Get(ctx, cache.DeliveryCountiesKey); err == nil {
		var counties []string
		if err := json.Unmarshal([]byte(raw), &counties); err == nil {
			return counties, nil
		}
	} else if !errors.Is(err, cache.ErrNotFound) {
		logger.Warn("county cache read failed", slog.Any("error", err))
	}

	counties, err := s.repo.ListCounties(ctx)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(counties); err == nil {
		if err := s.cache.Set(ctx, cache.DeliveryCountiesKey, string(encoded), countiesTTL); err != nil {
			logger.Warn("county cache write failed", slog.Any("error", err))
		}
	}
	return counties, nil
}

func (s *Service) SubCounties(ctx context.Context, county string) ([]string, error) {
	return s.repo.ListSubCounties(ctx, county)
}

func (s *Service) Locations(ctx context.Context, county, subCounty string) ([]models.DeliveryLocation, error) {
	return s.repo.ListLocations(ctx, county, subCounty)
}

// ResolveFee returns the flat fee for an exact, active location match.
func (s *Service) ResolveFee(ctx context.Context, county, subCounty, location string) (float64, error) {
	loc, err := s.repo.FindActive(ctx, county, subCounty, location)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrUnknownLocation
	}
	if err != nil {
		return 0, err
	}
	return loc.Fee, nil
}

func (s *Service) List(ctx context.Context, f store.DeliveryFilter, page, limit int64) ([]models.DeliveryLocation, int64, error) {
	return s.repo.List(ctx, f, page, limit)
}

func (s *Service) Create(ctx context.Context, in LocationInput) (*models.DeliveryLocation, error) {
	now := s.now()
	loc := &models.DeliveryLocation{IsActive: true, CreatedAt: now}
	applyInput(loc, in)
	loc.UpdatedAt = now

	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, loc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrLocationExists
		}
		return nil, err
	}

	s.invalidate(ctx)
	return loc, nil
}

func (s *Service) Update(ctx context.Context, id primitive.ObjectID, in LocationInput) (*models.DeliveryLocation, error) {
	loc, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLocationNotFound
	}
	if err != nil {
		return nil, err
	}

	applyInput(loc, in)
	loc.UpdatedAt = s.now()
	if err := validateLocation(loc); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, loc); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, ErrLocationExists
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrLocationNotFound
		}
		return nil, err
	}

	s.invalidate(ctx)
	return loc, nil
}

func (s *Service) Delete(ctx context.Context, id primitive.ObjectID) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrLocationNotFound
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Seed upserts every location in dataset. With reset, existing locations are removed first.
func (s *Service) Seed(ctx context.Context, dataset []models.DeliveryLocation, reset bool) (SeedResult, error) {
	var result SeedResult
	logger := logging.FromContext(ctx, s.logger)

	if reset {
		deleted, err := s.repo.DeleteAll(ctx)
		if err != nil {
			return result, err
		}
		result.Deleted = deleted
		logger.Info("delivery locations cleared", slog.Int64("deleted", deleted))
	}

	for _, loc := range dataset {
		created, err := s.repo.Upsert(ctx, loc)
		if err != nil {
			return result, err
		}
		if created {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	s.invalidate(ctx)
	logger.Info("delivery locations seeded",
		slog.Int("inserted", result.Inserted),
		slog.Int("updated", result.Updated),
	)
	return result, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.DeliveryCountiesKey); err != nil {
		logging.FromContext(ctx, s.logger).Warn("county cache invalidation failed", slog.Any("error", err))
	}
}

func applyInput(loc *models.DeliveryLocation, in LocationInput) {
	if in.County != nil {
		loc.County = strings.TrimSpace(*in.County)
	}
	if in.SubCounty != nil {
		loc.SubCounty = strings.TrimSpace(*in.SubCounty)
	}
	if in.Location != nil {
		loc.Location = strings.TrimSpace(*in.Location)
	}
	if in.Fee != nil {
		loc.Fee = *in.Fee
	}
	if in.IsActive != nil {
		loc.IsActive = *in.IsActive
	}
	loc.SetKeys()
}

func validateLocation(loc *models.DeliveryLocation) error {
	var v validation.Collector
	v.Check(loc.County != "", "county is required")
	v.Check(loc.SubCounty != "", "subCounty is required")
	v.Check(loc.Location != "", "location is required")
	v.Check(loc.Fee >= 0, "fee cannot be negative")
	return v.Err()
}
