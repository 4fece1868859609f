package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

func GetCategories(svc CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /categories"
		defer handlePanic(c, route)

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		categories, err := svc.ListCategories(ctx, false)
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, categories)
	}
}
