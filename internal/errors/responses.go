package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BadRequest sends a 400 Bad Request response.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	c.JSON(http.StatusBadRequest, NewAPIError(message, details))
}

// NotFound sends a 404 Not Found response.
func NotFound(c *gin.Context, message string, details map[string]interface{}) {
	c.JSON(http.StatusNotFound, NewAPIError(message, details))
}

// Conflict sends a 409 Conflict response.
func Conflict(c *gin.Context, message string, details map[string]interface{}) {
	c.JSON(http.StatusConflict, NewAPIError(message, details))
}

// Internal sends a 500 Internal Server Error response.
func Internal(c *gin.Context, message string, details map[string]interface{}) {
	c.JSON(http.StatusInternalServerError, NewAPIError(message, details))
}

// Coded sends an error response with the given HTTP status and a
// machine-readable code the UI can classify.
func Coded(c *gin.Context, status int, message, code string) {
	c.JSON(status, NewCodedAPIError(message, code, nil))
}
