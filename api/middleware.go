package api

import (
	"compress/gzip"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// InflateBodies decodes request bodies sent with a gzip Content-Encoding. A body
// that is not valid gzip answers 400 before any handler reads it.
func InflateBodies() echo.MiddlewareFunc {
	decompress := middleware.Decompress()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		inflated := decompress(next)
		return func(c echo.Context) error {
			req := c.Request()
			if !gzipped(req.Header.Values(echo.HeaderContentEncoding)) {
				return next(c)
			}
			// Decompress only matches the exact header value.
			req.Header.Set(echo.HeaderContentEncoding, "gzip")
			req.Header.Del(echo.HeaderContentLength)
			req.ContentLength = -1

			err := inflated(c)
			if errors.Is(err, gzip.ErrHeader) || errors.Is(err, gzip.ErrChecksum) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			return err
		}
	}
}

func gzipped(values []string) bool {
	for _, v := range values {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
				return true
			}
		}
	}
	return false
}
