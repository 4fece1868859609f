package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/catalog"
	"storefront/internal/logging"
	"storefront/internal/store"
)

var validSorts = map[string]bool{
	"":                  true,
	store.SortNewest:    true,
	store.SortPriceAsc:  true,
	store.SortPriceDesc: true,
	store.SortName:      true,
}

// parseProductFilter reads the catalog query string shared by the public and admin listings.
func parseProductFilter(c *gin.Context) (store.ProductFilter, error) {
	f := store.ProductFilter{
		Category: strings.TrimSpace(c.Query("category")),
		Brand:    strings.TrimSpace(c.Query("brand")),
		Search:   strings.TrimSpace(c.Query("search")),
		Sort:     strings.TrimSpace(c.Query("sort")),
	}
	if !validSorts[f.Sort] {
		return f, errors.New("sort must be one of newest, price_asc, price_desc, name")
	}

	for name, dst := range map[string]**float64{"minPrice": &f.MinPrice, "maxPrice": &f.MaxPrice} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return f, errors.New(name + " must be a non-negative number")
		}
		*dst = &v
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return f, errors.New("minPrice must not exceed maxPrice")
	}

	if raw := strings.TrimSpace(c.Query("featured")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, errors.New("featured must be true or false")
		}
		f.Featured = &v
	}
	if raw := strings.TrimSpace(c.Query("inStock")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, errors.New("inStock must be true or false")
		}
		f.InStockOnly = v
	}
	return f, nil
}

// GetProducts serves the public, paginated catalog.
func GetProducts(svc CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /products"
		defer handlePanic(c, route)

		filter, err := parseProductFilter(c)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid pagination params")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		products, total, err := svc.ListProducts(ctx, filter, page, limit)
		if err != nil {
			respondInternal(c, route, err)
			return
		}

		logging.FromContext(ctx, nil).Debug("products listed",
			slog.Int("count", len(products)),
			slog.Int64("total", total),
		)
		c.JSON(http.StatusOK, paginated(products, page, limit, total))
	}
}

// GetProduct looks a product up by id or slug.
func GetProduct(svc CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /products/:id"
		defer handlePanic(c, route)

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		product, err := svc.GetProduct(ctx, c.Param("id"), false)
		if errors.Is(err, catalog.ErrProductNotFound) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}
