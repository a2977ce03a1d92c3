// Package validation provides input validation helpers for the interpay API.
package validation

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-text fields such as concepts
const MaxStringLength = 500

// MaxAmountDecimals bounds the precision accepted for major-unit amounts.
const MaxAmountDecimals = 9

var (
	// keyRegex matches session keys and task ids.
	keyRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	// walletPathRegex matches the host/path part of a wallet address.
	walletPathRegex = regexp.MustCompile(`^[A-Za-z0-9.-]+(:[0-9]+)?(/[A-Za-z0-9._~%-]+)*/?$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidKey checks session keys and task ids.
func IsValidKey(s string) bool {
	return keyRegex.MatchString(s)
}

// IsValidWalletAddress accepts absolute http(s) URLs, "$host/path" payment
// pointers, and bare "host/path" forms.
func IsValidWalletAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	switch {
	case addr == "":
		return false
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		u, err := url.Parse(addr)
		return err == nil && u.Host != ""
	case strings.HasPrefix(addr, "$"):
		return walletPathRegex.MatchString(addr[1:])
	default:
		return walletPathRegex.MatchString(addr)
	}
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidWalletAddress checks a wallet address field. Empty values pass; use
// Required for required fields.
func ValidWalletAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidWalletAddress(value) {
			return &ValidationError{Field: field, Message: "must be a wallet address URL or payment pointer ($host/path)"}
		}
		return nil
	}
}

// ValidKey checks an optional session key or task id.
func ValidKey(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidKey(value) {
			return &ValidationError{Field: field, Message: "must be 1-128 characters of letters, digits, '.', '_', ':' or '-'"}
		}
		return nil
	}
}

// PositiveAmount checks that an amount is greater than zero and not overly
// precise.
func PositiveAmount(field string, value decimal.Decimal) func() *ValidationError {
	return func() *ValidationError {
		if !value.IsPositive() {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		if -value.Exponent() > MaxAmountDecimals && !value.Equal(value.Truncate(MaxAmountDecimals)) {
			return &ValidationError{Field: field, Message: "amount has too many decimal places"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// KeyParamMiddleware rejects malformed values of the named URL parameter.
func KeyParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := c.Param(param); v != "" && !IsValidKey(v) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": param + " is malformed",
			})
			return
		}
		c.Next()
	}
}
