package predict

import "github.com/kamiya-yoshiyuki/yolov8/internal/entity"

// PredictResult is the finished answer for one upload: the annotated image
// bytes and the content type derived from the uploaded extension.
type PredictResult struct {
	Data        []byte
	ContentType string
	Detections  []entity.Detection
}

type HealthResponse struct {
	Message     string `json:"message"`
	ModelLoaded bool   `json:"model_loaded"`
	Weights     string `json:"weights,omitempty"`
}
