package entity

type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

type Detection struct {
	Class      string      `json:"class"`
	Confidence float64     `json:"conf"`
	Box        BoundingBox `json:"box"`
}

// PredictOutput is what a completed file-based inference hands back: the
// path of the annotated image the runner saved, plus the raw detections.
type PredictOutput struct {
	SavedPath  string      `json:"saved_path"`
	Detections []Detection `json:"detections"`
}

// FrameResult is the per-frame answer on the streaming path.
type FrameResult struct {
	Detections []Detection `json:"detections"`
	Count      int         `json:"count"`
	Error      string      `json:"error,omitempty"`
}
