package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/logging"
	"storefront/internal/validation"
)

func handlePanic(c *gin.Context, route string) {
	if r := recover(); r != nil {
		logging.FromContext(c.Request.Context(), nil).Error("panic recovered",
			slog.String("route", route),
			slog.Any("panic", r),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func respondWithError(c *gin.Context, status int, route string, message string) {
	logger := logging.FromContext(c.Request.Context(), nil)
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(c.Request.Context(), level, "returning error",
		slog.String("route", route),
		slog.Int("status", status),
		slog.String("message", message),
	)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// respondInternal logs err and hides it from the client.
func respondInternal(c *gin.Context, route string, err error) {
	logging.FromContext(c.Request.Context(), nil).Error("request failed",
		slog.String("route", route),
		slog.Any("error", err),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// respondValidationError renders binding and domain validation failures as a detail list.
func respondValidationError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			field := lowerCamel(fieldError.Field())
			switch fieldError.Tag() {
			case "required":
				details = append(details, fmt.Sprintf("%s is required", field))
			default:
				details = append(details, fmt.Sprintf("%s is invalid", field))
			}
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "validation failed",
			"details": details,
		})
		return
	}

	var domainErr *validation.Error
	if errors.As(err, &domainErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "validation failed",
			"details": domainErr.Details,
		})
		return
	}

	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body", "details": err.Error()})
}

func isValidationError(err error) bool {
	var domainErr *validation.Error
	return errors.As(err, &domainErr)
}

func lowerCamel(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// objectIDParam reads a path parameter as an ObjectID, answering 400 when it is not one.
func objectIDParam(c *gin.Context, route, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(c.Param(name)))
	if err != nil {
		respondWithError(c, http.StatusBadRequest, route, "invalid "+name)
		return primitive.NilObjectID, false
	}
	return id, true
}
