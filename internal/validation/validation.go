// Package validation provides input validation for the fleet admin API.
package validation

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// credentialRegex validates platform bot credentials: a numeric bot
	// identifier, a colon, and an opaque secret of at least 30 characters.
	credentialRegex = regexp.MustCompile(`^\d{5,12}:[A-Za-z0-9_-]{30,64}$`)
	// userIDRegex validates end-user identifiers (numeric platform IDs).
	userIDRegex = regexp.MustCompile(`^\d{1,20}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidCredential checks if a string looks like a platform bot credential.
func IsValidCredential(credential string) bool {
	return credentialRegex.MatchString(credential)
}

// IsValidUserID checks if a string is a well-formed end-user identifier.
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// IsValidStorageLocator checks that a tenant's isolated storage locator is a
// well-formed connection URL for a supported backend. The locator is opaque
// to everything downstream; only its shape is validated here.
func IsValidStorageLocator(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "postgres", "postgresql", "mongodb", "mongodb+srv":
		return u.Host != ""
	default:
		return false
	}
}

// SanitizeString removes control characters and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
