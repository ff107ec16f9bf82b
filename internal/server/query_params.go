package server

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, ErrInvalidRequest
	}
	return id, nil
}

func parseIMEI(value string) (string, error) {
	imei := strings.TrimSpace(value)
	if imei == "" {
		return "", newValidationError("imei", "invalid_imei", "imei is required")
	}
	return imei, nil
}

// bindOptionalJSON binds a JSON body when one is sent; an empty body leaves
// dst untouched.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
