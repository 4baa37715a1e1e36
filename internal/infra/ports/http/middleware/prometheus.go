package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/LiveClass/internal/application/metric"
)

// PrometheusMiddleware собирает метрики HTTP запросов UI
func PrometheusMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if status == 0 {
				status = http.StatusOK
			}

			// ошибка без выставленного статуса - это 500 от echo
			if err != nil && status < http.StatusBadRequest {
				status = http.StatusInternalServerError
			}

			metric.RecordHTTPMetrics(c.Request().Method, c.Path(), status, time.Since(start))

			return err
		}
	}
}
