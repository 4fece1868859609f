package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/delivery"
	"storefront/internal/store"
)

func respondDeliveryError(c *gin.Context, route string, err error) {
	switch {
	case isValidationError(err):
		respondValidationError(c, err)
	case errors.Is(err, delivery.ErrUnknownLocation):
		respondWithError(c, http.StatusNotFound, route, err.Error())
	case errors.Is(err, delivery.ErrLocationNotFound):
		respondWithError(c, http.StatusNotFound, route, "delivery location not found")
	case errors.Is(err, delivery.ErrLocationExists):
		respondWithError(c, http.StatusConflict, route, "delivery location already exists")
	default:
		respondInternal(c, route, err)
	}
}

func GetCounties(svc DeliveryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /delivery/counties"
		defer handlePanic(c, route)

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		counties, err := svc.Counties(ctx)
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": counties})
	}
}

func GetSubCounties(svc DeliveryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /delivery/counties/:county/sub-counties"
		defer handlePanic(c, route)

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		subCounties, err := svc.SubCounties(ctx, strings.TrimSpace(c.Param("county")))
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": subCounties})
	}
}

func GetLocations(svc DeliveryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /delivery/locations"
		defer handlePanic(c, route)

		county := strings.TrimSpace(c.Query("county"))
		subCounty := strings.TrimSpace(c.Query("subCounty"))
		if county == "" || subCounty == "" {
			respondWithError(c, http.StatusBadRequest, route, "county and subCounty are required")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		locations, err := svc.Locations(ctx, county, subCounty)
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": locations})
	}
}

func GetDeliveryFee(svc DeliveryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /delivery/fee"
		defer handlePanic(c, route)

		county := strings.TrimSpace(c.Query("county"))
		subCounty := strings.TrimSpace(c.Query("subCounty"))
		location := strings.TrimSpace(c.Query("location"))
		if county == "" || subCounty == "" || location == "" {
			respondWithError(c, http.StatusBadRequest, route, "county, subCounty and location are required")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		fee, err := svc.ResolveFee(ctx, county, subCounty, location)
		if err != nil {
			respondDeliveryError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"county":    county,
			"subCounty": subCounty,
			"location":  location,
			"fee":       fee,
		})
	}
}

/*
GET /admin/api/delivery-locations
Filters: county, subCounty, isActive.
*/
func GetAllDeliveryLocations(svc DeliveryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/delivery-locations"
		defer handlePanic(c, route)

		filter := store.DeliveryFilter{
			County:    strings.TrimSpace(c.Query("county")),
			SubCounty: strings.TrimSpace(c.Query("subCounty")),
		}
		if raw := strings.TrimSpace(c.Query("isActive")); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				respondWithError(c, http.StatusBadRequest, route, "isActive must be true or false")
				return
			}
			filter.IsActive = &v
		}

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid pagination params")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		locations, total, err := svc.List(ctx, filter, page, limit)
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, paginated(locations, page, limit, total))
	}
}

func CreateDeliveryLocation(svc DeliveryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/delivery-locations"
		defer handlePanic(c, route)

		var req delivery.LocationInput
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		loc, err := svc.Create(ctx, req)
		if err != nil {
			respondDeliveryError(c, route, err)
			return
		}
		c.JSON(http.StatusCreated, loc)
	}
}

func UpdateDeliveryLocation(svc DeliveryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /admin/api/delivery-locations/:id"
		defer handlePanic(c, route)

		id, ok := objectIDParam(c, route, "id")
		if !ok {
			return
		}

		var req delivery.LocationInput
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		loc, err := svc.Update(ctx, id, req)
		if err != nil {
			respondDeliveryError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, loc)
	}
}

func DeleteDeliveryLocation(svc DeliveryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /admin/api/delivery-locations/:id"
		defer handlePanic(c, route)

		id, ok := objectIDParam(c, route, "id")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		if err := svc.Delete(ctx, id); err != nil {
			respondDeliveryError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "delivery location deleted"})
	}
}
