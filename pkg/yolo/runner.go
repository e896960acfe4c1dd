package yolo

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/kamiya-yoshiyuki/yolov8/internal/entity"
)

// IRunner is the opaque boundary around the pretrained detection model. The
// model itself lives in a separate runner process; this client covers its
// two entry points: file-based predict and per-frame streaming detection.
type IRunner interface {
	Predict(ctx context.Context, imagePath, outputDir string, conf float64) (*entity.PredictOutput, error)
	ProcessFrame(frame []byte) (*entity.FrameResult, error)
	Weights() string
	Close()
}

type Config struct {
	BaseURL string
	WSURL   string
	Weights string
}

type runnerClient struct {
	log    *logrus.Logger
	http   *http.Client
	cfg    Config
	stream *streamConn
}

// New builds the runner client and confirms the runner is up and serving
// the configured weights. A failed check is the "model failed to load"
// condition: the caller keeps running degraded with no runner handle.
func New(logger *logrus.Logger, cfg Config) (IRunner, error) {
	// No client timeout: inference runs to completion or failure, with no
	// bound enforced on this side.
	c := &runnerClient{
		log:    logger,
		http:   &http.Client{},
		cfg:    cfg,
		stream: newStreamConn(logger, cfg.WSURL),
	}

	if err := c.checkHealth(); err != nil {
		return nil, fmt.Errorf("model runner unavailable: %w", err)
	}

	return c, nil
}

func (c *runnerClient) checkHealth() error {
	resp, err := c.http.Get(c.cfg.BaseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runner unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

func (c *runnerClient) Weights() string {
	return c.cfg.Weights
}

type predictResponse struct {
	Detections []entity.Detection `json:"detections"`
	Image      string             `json:"image"`
	Filename   string             `json:"filename"`
}

// Predict sends the persisted upload to the runner and saves the annotated
// image it returns under outputDir, keeping the original filename so the
// caller can locate it deterministically.
func (c *runnerClient) Predict(ctx context.Context, imagePath, outputDir string, conf float64) (*entity.PredictOutput, error) {
	src, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input image: %w", err)
	}
	defer src.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, fmt.Errorf("failed to copy image data: %w", err)
	}
	if err := writer.WriteField("conf", strconv.FormatFloat(conf, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("failed to write conf field: %w", err)
	}
	if err := writer.WriteField("weights", c.cfg.Weights); err != nil {
		return nil, fmt.Errorf("failed to write weights field: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach runner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runner predict failed with status %d", resp.StatusCode)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode runner response: %w", err)
	}

	annotated, err := base64.StdEncoding.DecodeString(pr.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to decode annotated image: %w", err)
	}

	name := pr.Filename
	if name == "" {
		name = filepath.Base(imagePath)
	}
	savedPath := filepath.Join(outputDir, name)
	if err := os.WriteFile(savedPath, annotated, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save annotated image: %w", err)
	}

	return &entity.PredictOutput{
		SavedPath:  savedPath,
		Detections: pr.Detections,
	}, nil
}

func (c *runnerClient) ProcessFrame(frame []byte) (*entity.FrameResult, error) {
	return c.stream.processFrame(frame)
}

func (c *runnerClient) Close() {
	c.stream.close()
}
