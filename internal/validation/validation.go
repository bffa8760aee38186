// Package validation provides request validation middleware.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (64KB). A 30 feature
// transaction is a few hundred bytes.
const MaxRequestSize = 64 << 10

// MaxIDLength bounds path identifiers.
const MaxIDLength = 64

// transactionIDRegex accepts TXN-<unix>-<hex> and the older TXN-<unix> form.
var transactionIDRegex = regexp.MustCompile(`^TXN-[0-9]{1,12}(-[0-9a-f]{4})?$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "request body exceeds the size limit",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidTransactionID reports whether id looks like an id this service issued.
func IsValidTransactionID(id string) bool {
	return len(id) <= MaxIDLength && transactionIDRegex.MatchString(id)
}

// SanitizeString trims, strips null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// TransactionIDParamMiddleware rejects malformed :id parameters before
// they reach a store.
func TransactionIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidTransactionID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "id must look like TXN-<unix seconds>-<4 hex>",
			})
			return
		}
		c.Next()
	}
}
