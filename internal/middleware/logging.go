package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kamiya-yoshiyuki/yolov8/pkg/log"
)

// NewLoggingMiddleware logs one line per request. Bodies are not logged:
// the predict endpoint carries multipart image payloads.
func (m *middleware) NewLoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := m.GetRequestID(c)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()

		logFields := log.Fields{
			"request_id":    requestID,
			"method":        c.Method(),
			"path":          c.Path(),
			"status":        status,
			"latency_ms":    latency.Milliseconds(),
			"ip":            c.IP(),
			"response_size": len(c.Response().Body()),
		}

		if status >= 500 {
			m.log.WithFields(logFields).Error("Server error")
		} else if status >= 400 {
			m.log.WithFields(logFields).Warn("Client error")
		} else {
			m.log.WithFields(logFields).Info("Success")
		}

		return err
	}
}
