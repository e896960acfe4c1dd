package predictService

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"golang.org/x/net/context"

	"github.com/kamiya-yoshiyuki/yolov8/internal/api/predict"
	"github.com/kamiya-yoshiyuki/yolov8/internal/entity"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/log"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/response"
)

// maxFrameWidth bounds frames forwarded on the streaming path.
const maxFrameWidth = 640

// Predict persists one upload, runs inference on it, and returns the
// annotated image bytes. The temp input file is removed on every exit path;
// the per-request output directory survives unless retention is disabled.
func (s *predictService) Predict(ctx context.Context, file *multipart.FileHeader) (*predict.PredictResult, error) {
	if s.runner == nil {
		return nil, predict.ErrModelNotLoaded
	}

	src, err := file.Open()
	if err != nil {
		s.log.WithFields(log.Fields{
			"file_name": file.Filename,
			"error":     err.Error(),
		}).Error("Failed to open uploaded file")
		return nil, predict.ErrSaveUpload
	}
	defer src.Close()

	inputPath, err := s.workspace.SaveUpload(file.Filename, src)
	if err != nil {
		s.log.WithFields(log.Fields{
			"file_name": file.Filename,
			"error":     err.Error(),
		}).Error("Failed to persist upload")
		return nil, predict.ErrSaveUpload
	}
	defer s.workspace.RemoveInput(inputPath)

	savedPath, detections, err := s.runDetection(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	if !s.workspace.Retain() {
		defer s.workspace.RemoveOutputDir(filepath.Dir(savedPath))
	}

	data, err := os.ReadFile(savedPath)
	if err != nil {
		s.log.WithFields(log.Fields{
			"saved_path": savedPath,
			"error":      err.Error(),
		}).Error("Failed to read annotated image")
		return nil, predict.ErrSendResult
	}

	return &predict.PredictResult{
		Data:        data,
		ContentType: s.utils.ContentTypeForExt(filepath.Ext(file.Filename)),
		Detections:  detections,
	}, nil
}

// runDetection invokes the runner on a persisted image and locates the
// annotated file it saved. The runner is expected to keep the input's
// filename; if the expected path is missing, the first image-like file in
// the output directory is used instead.
func (s *predictService) runDetection(ctx context.Context, imagePath string) (string, []entity.Detection, error) {
	if s.runner == nil {
		return "", nil, predict.ErrModelNotLoaded
	}

	outputDir, err := s.workspace.NewOutputDir()
	if err != nil {
		s.log.WithFields(log.Fields{
			"image_path": imagePath,
			"error":      err.Error(),
		}).Error("Failed to create output directory")
		return "", nil, predict.ErrOutputNotFound
	}

	out, err := s.runner.Predict(ctx, imagePath, outputDir, s.conf)
	if err != nil {
		s.log.WithFields(log.Fields{
			"image_path": imagePath,
			"error":      err.Error(),
		}).Error("Inference failed")
		// Legacy behavior: this path leaks the underlying error text to the
		// caller while its siblings stay generic. Kept intentionally.
		return "", nil, response.NewError(http.StatusInternalServerError, "internal error during inference: "+err.Error())
	}

	savedPath := s.locateOutput(outputDir, filepath.Base(imagePath))
	if savedPath == "" {
		s.log.WithFields(log.Fields{
			"output_dir": outputDir,
		}).Error("No annotated image found in output directory")
		return "", nil, predict.ErrOutputNotFound
	}

	return savedPath, out.Detections, nil
}

// locateOutput finds the annotated file under dir: the expected filename
// first, then the first image-like entry as a fallback. Returns "" when
// nothing usable exists.
func (s *predictService) locateOutput(dir, expectedName string) string {
	expected := filepath.Join(dir, expectedName)
	if _, err := os.Stat(expected); err == nil {
		return expected
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Warnf("failed to scan output dir %s: %v", dir, err)
		return ""
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && s.utils.IsImageFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	return filepath.Join(dir, names[0])
}

// ProcessFrame handles one binary frame on the streaming path. Frames are
// decoded and downscaled before being forwarded to the runner.
func (s *predictService) ProcessFrame(frame []byte) (*entity.FrameResult, error) {
	if s.runner == nil {
		return nil, predict.ErrModelNotLoaded
	}

	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, predict.ErrInvalidFileType
	}

	if img.Bounds().Dx() > maxFrameWidth {
		img = imaging.Resize(img, maxFrameWidth, 0, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
			return nil, err
		}
		frame = buf.Bytes()
	}

	return s.runner.ProcessFrame(frame)
}
