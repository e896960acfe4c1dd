package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/kamiya-yoshiyuki/yolov8/internal/api/predict"
	predictHandler "github.com/kamiya-yoshiyuki/yolov8/internal/api/predict/handler"
	predictService "github.com/kamiya-yoshiyuki/yolov8/internal/api/predict/service"
	"github.com/kamiya-yoshiyuki/yolov8/internal/middleware"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/utils"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/workspace"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/yolo"
)

type ServerOption func(*Server) error

type Server struct {
	engine     *fiber.App
	log        *logrus.Logger
	cfg        *Config
	middleware middleware.Middleware
	validator  *validator.Validate
	utils      utils.IUtils
	workspace  workspace.IWorkspace
	runner     yolo.IRunner
	handlers   []handler
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithConfig() ServerOption {
	return func(s *Server) error {
		if s.validator == nil {
			return fmt.Errorf("validator must be initialized before config")
		}
		cfg, err := Load(s.validator)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		s.cfg = cfg
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log)
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func WithWorkspace() ServerOption {
	return func(s *Server) error {
		if s.cfg == nil {
			return fmt.Errorf("config must be initialized before workspace")
		}
		ws, err := workspace.New(s.log, s.cfg.UploadDir, s.cfg.OutputDir, s.cfg.RetainOutputs)
		if err != nil {
			return fmt.Errorf("failed to create workspace: %w", err)
		}
		s.workspace = ws
		return nil
	}
}

// WithRunner attempts the one-time model load. Failure is not fatal: the
// server keeps running degraded and every predict request gets 503.
func WithRunner() ServerOption {
	return func(s *Server) error {
		if s.cfg == nil {
			return fmt.Errorf("config must be initialized before runner")
		}
		runner, err := yolo.New(s.log, yolo.Config{
			BaseURL: s.cfg.RunnerURL,
			WSURL:   s.cfg.RunnerWSURL,
			Weights: s.cfg.Weights,
		})
		if err != nil {
			s.log.Errorf("Failed to load model %s: %v. Serving in degraded mode.", s.cfg.Weights, err)
			return nil
		}
		s.log.Infof("Model %s loaded", s.cfg.Weights)
		s.runner = runner
		return nil
	}
}

func (s *Server) RegisterHandler() {
	predictServices := predictService.NewPredictService(s.log, s.runner, s.workspace, s.utils, s.cfg.ConfThreshold)
	predictHandlers := predictHandler.New(s.log, s.validator, s.middleware, predictServices, s.utils)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, predictHandlers)
}

func (s *Server) Run() error {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())

	router := s.engine.Group("/api/v1")

	for _, h := range s.handlers {
		h.Start(router)
	}

	if err := s.engine.Listen(fmt.Sprintf(":%s", s.cfg.Port)); err != nil {
		return err
	}

	return nil
}

// Shutdown stops the listener and removes both temp roots. Cleanup is best
// effort; failures are logged inside the workspace and swallowed.
func (s *Server) Shutdown() {
	if err := s.engine.Shutdown(); err != nil {
		s.log.Warnf("Error shutting down server: %v", err)
	}
	if s.runner != nil {
		s.runner.Close()
	}
	if s.workspace != nil {
		s.workspace.Cleanup()
	}
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(predict.HealthResponse{
			Message:     "Server is Healthy!",
			ModelLoaded: s.runner != nil,
			Weights:     s.cfg.Weights,
		})
	})
}
