package predictHandler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	predictService "github.com/kamiya-yoshiyuki/yolov8/internal/api/predict/service"
	"github.com/kamiya-yoshiyuki/yolov8/internal/middleware"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/utils"
)

type PredictHandler struct {
	log            *logrus.Logger
	validator      *validator.Validate
	middleware     middleware.Middleware
	predictService predictService.IPredictService
	utils          utils.IUtils
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	ps predictService.IPredictService,
	utils utils.IUtils,
) *PredictHandler {
	return &PredictHandler{
		log:            log,
		validator:      validator,
		middleware:     middleware,
		predictService: ps,
		utils:          utils,
	}
}

func (h *PredictHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	predict := srv.Group("/predict")
	predict.Post("/", h.middleware.NewRateLimiter, h.PredictImage)
	predict.Use("/ws", wsMiddleware)
	predict.Get("/ws", websocket.New(h.handleStreamWebSocket))
}
