package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/cache"
	"storefront/internal/logging"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/validation"
)

type fakeRepo struct {
	Repository
	countyCalls int
	counties    []string
	locations   map[string]models.DeliveryLocation
	upserted    []models.DeliveryLocation
	createErr   error
}

func (f *fakeRepo) ListCounties(context.Context) ([]string, error) {
	f.countyCalls++
	return f.counties, nil
}

func (f *fakeRepo) FindActive(_ context.Context, county, subCounty, location string) (*models.DeliveryLocation, error) {
	key := models.LocationKey(county) + "|" + models.LocationKey(subCounty) + "|" + models.LocationKey(location)
	loc, ok := f.locations[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &loc, nil
}

func (f *fakeRepo) Create(_ context.Context, loc *models.DeliveryLocation) error {
	if f.createErr != nil {
		return f.createErr
	}
	loc.ID = primitive.NewObjectID()
	return nil
}

func (f *fakeRepo) Upsert(_ context.Context, loc models.DeliveryLocation) (bool, error) {
	for _, existing := range f.upserted {
		if existing.CountyKey == loc.CountyKey && existing.SubCountyKey == loc.SubCountyKey && existing.LocationKey == loc.LocationKey {
			return false, nil
		}
	}
	f.upserted = append(f.upserted, loc)
	return true, nil
}

func (f *fakeRepo) DeleteAll(context.Context) (int64, error) {
	n := int64(len(f.upserted))
	f.upserted = nil
	return n, nil
}

func newTestService(t *testing.T, repo *fakeRepo) *Service {
	t.Helper()
	c, err := cache.NewMemoryProvider(0)
	require.NoError(t, err)
	return NewService(repo, c, logging.Discard())
}

func TestDefaultDataset(t *testing.T) {
	locations, err := DefaultDataset()
	require.NoError(t, err)
	require.NotEmpty(t, locations)

	seen := map[string]bool{}
	for _, loc := range locations {
		key := loc.CountyKey + "|" + loc.SubCountyKey + "|" + loc.LocationKey
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
		assert.True(t, loc.IsActive)
		assert.GreaterOrEqual(t, loc.Fee, 0.0)
	}
	assert.True(t, seen["nairobi|westlands|parklands"])
}

func TestParseDatasetRejectsBadInput(t *testing.T) {
	_, err := ParseDataset([]byte("counties:\n  - name: X\n    subCounties:\n      - name: Y\n        locations:\n          - { name: Z, fee: -5 }\n"))
	assert.Error(t, err)

	_, err = ParseDataset([]byte("counties: [oops"))
	assert.Error(t, err)
}

func TestCountiesCachedAndInvalidated(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{counties: []string{"Kiambu", "Nairobi"}}
	svc := newTestService(t, repo)

	for i := 0; i < 3; i++ {
		got, err := svc.Counties(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Kiambu", "Nairobi"}, got)
	}
	assert.Equal(t, 1, repo.countyCalls)

	fee := 300.0
	_, err := svc.Create(ctx, LocationInput{County: ptr("Mombasa"), SubCounty: ptr("Nyali"), Location: ptr("Bamburi"), Fee: &fee})
	require.NoError(t, err)

	_, err = svc.Counties(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.countyCalls)
}

func TestResolveFee(t *testing.T) {
	ctx := context.Background()
	loc := models.DeliveryLocation{County: "Nairobi", SubCounty: "Westlands", Location: "Parklands", Fee: 200, IsActive: true}
	loc.SetKeys()
	repo := &fakeRepo{locations: map[string]models.DeliveryLocation{
		"nairobi|westlands|parklands": loc,
	}}
	svc := newTestService(t, repo)

	fee, err := svc.ResolveFee(ctx, "  NAIROBI", "westlands ", "Parklands")
	require.NoError(t, err)
	assert.Equal(t, 200.0, fee)

	_, err = svc.ResolveFee(ctx, "Nairobi", "Westlands", "Nowhere")
	assert.ErrorIs(t, err, ErrUnknownLocation)
}

func TestCreateValidationAndDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{}
	svc := newTestService(t, repo)

	fee := -1.0
	_, err := svc.Create(ctx, LocationInput{County: ptr("Nairobi"), Fee: &fee})
	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Details, "fee cannot be negative")
	assert.Contains(t, verr.Details, "location is required")

	repo.createErr = store.ErrDuplicate
	_, err = svc.Create(ctx, LocationInput{County: ptr("A"), SubCounty: ptr("B"), Location: ptr("C")})
	assert.ErrorIs(t, err, ErrLocationExists)
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{}
	svc := newTestService(t, repo)

	dataset, err := DefaultDataset()
	require.NoError(t, err)

	first, err := svc.Seed(ctx, dataset, false)
	require.NoError(t, err)
	assert.Equal(t, len(dataset), first.Inserted)

	second, err := svc.Seed(ctx, dataset, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, len(dataset), second.Updated)

	reset, err := svc.Seed(ctx, dataset, true)
	require.NoError(t, err)
	assert.Equal(t, int64(len(dataset)), reset.Deleted)
	assert.Equal(t, len(dataset), reset.Inserted)
}

func ptr[T any](v T) *T { return &v }
