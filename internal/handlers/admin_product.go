package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/catalog"
)

func respondCatalogError(c *gin.Context, route string, err error) {
	switch {
	case isValidationError(err):
		respondValidationError(c, err)
	case errors.Is(err, catalog.ErrProductNotFound):
		respondWithError(c, http.StatusNotFound, route, "product not found")
	case errors.Is(err, catalog.ErrCategoryNotFound):
		respondWithError(c, http.StatusNotFound, route, "category not found")
	case errors.Is(err, catalog.ErrCategoryExists):
		respondWithError(c, http.StatusConflict, route, "category already exists")
	default:
		respondInternal(c, route, err)
	}
}

/*
GET /admin/api/products
Same filters as the public listing, inactive products included.
*/
func GetAllProducts(svc CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/products"
		defer handlePanic(c, route)

		filter, err := parseProductFilter(c)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		filter.IncludeInactive = true

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
		c.JSON(http.StatusOK, paginated(products, page, limit, total))
	}
}

func GetProductAdmin(svc CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/products/:id"
		defer handlePanic(c, route)

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		product, err := svc.GetProduct(ctx, c.Param("id"), true)
		if err != nil {
			respondCatalogError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func CreateProduct(svc CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/products"
		defer handlePanic(c, route)

		var req catalog.ProductInput
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		product, err := svc.CreateProduct(ctx, req)
		if err != nil {
			respondCatalogError(c, route, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

// UpdateProduct applies a partial update; omitted fields keep their value.
func UpdateProduct(svc CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /admin/api/products/:id"
		defer handlePanic(c, route)

		id, ok := objectIDParam(c, route, "id")
		if !ok {
			return
		}

		var req catalog.ProductInput
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		product, err := svc.UpdateProduct(ctx, id, req)
		if err != nil {
			respondCatalogError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

// DeleteProduct soft deletes; orders keep referencing the product.
func DeleteProduct(svc CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /admin/api/products/:id"
		defer handlePanic(c, route)

		id, ok := objectIDParam(c, route, "id")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		if err := svc.DeleteProduct(ctx, id); err != nil {
			respondCatalogError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "product deleted"})
	}
}
