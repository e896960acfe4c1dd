package predictService

import (
	"mime/multipart"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/kamiya-yoshiyuki/yolov8/internal/api/predict"
	"github.com/kamiya-yoshiyuki/yolov8/internal/entity"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/utils"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/workspace"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/yolo"
)

type IPredictService interface {
	Predict(ctx context.Context, file *multipart.FileHeader) (*predict.PredictResult, error)
	ProcessFrame(frame []byte) (*entity.FrameResult, error)
	ModelLoaded() bool
}

type predictService struct {
	log       *logrus.Logger
	runner    yolo.IRunner
	workspace workspace.IWorkspace
	utils     utils.IUtils
	conf      float64
}

// NewPredictService wires the predict domain. runner may be nil: that is
// the degraded mode entered when the model failed to load at startup, and
// every request is then rejected as service-unavailable.
func NewPredictService(
	log *logrus.Logger,
	runner yolo.IRunner,
	ws workspace.IWorkspace,
	utils utils.IUtils,
	conf float64,
) IPredictService {
	return &predictService{
		log:       log,
		runner:    runner,
		workspace: ws,
		utils:     utils,
		conf:      conf,
	}
}

func (s *predictService) ModelLoaded() bool {
	return s.runner != nil
}
