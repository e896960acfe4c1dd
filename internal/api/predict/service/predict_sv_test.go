package predictService

import (
	"bytes"
	"errors"
	"image"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/kamiya-yoshiyuki/yolov8/internal/api/predict"
	"github.com/kamiya-yoshiyuki/yolov8/internal/entity"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/response"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/utils"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/workspace"
)

// mockRunner stands in for the external model. It writes a canned annotated
// file into the output dir, under a configurable name.
type mockRunner struct {
	mu         sync.Mutex
	saveAs     string // "" means keep the input filename
	noOutput   bool
	err        error
	annotated  []byte
	outputDirs []string
	inputPaths []string
	frames     [][]byte
}

func (m *mockRunner) Predict(_ context.Context, imagePath, outputDir string, _ float64) (*entity.PredictOutput, error) {
	m.mu.Lock()
	m.outputDirs = append(m.outputDirs, outputDir)
	m.inputPaths = append(m.inputPaths, imagePath)
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	if m.noOutput {
		return &entity.PredictOutput{}, nil
	}

	name := m.saveAs
	if name == "" {
		name = filepath.Base(imagePath)
	}
	saved := filepath.Join(outputDir, name)
	if err := os.WriteFile(saved, m.annotated, 0o644); err != nil {
		return nil, err
	}

	return &entity.PredictOutput{
		SavedPath:  saved,
		Detections: []entity.Detection{{Class: "cat", Confidence: 0.9}},
	}, nil
}

func (m *mockRunner) ProcessFrame(frame []byte) (*entity.FrameResult, error) {
	m.mu.Lock()
	m.frames = append(m.frames, frame)
	m.mu.Unlock()
	return &entity.FrameResult{Count: 0}, nil
}

func (m *mockRunner) Weights() string { return "mock.pt" }
func (m *mockRunner) Close()          {}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T, runner *mockRunner, retain bool) (IPredictService, string, string) {
	t.Helper()

	root := t.TempDir()
	uploadDir := filepath.Join(root, "temp_uploads")
	outputDir := filepath.Join(root, "temp_outputs")

	ws, err := workspace.New(testLogger(), uploadDir, outputDir, retain)
	if err != nil {
		t.Fatalf("workspace.New() failed: %v", err)
	}

	var svc IPredictService
	if runner == nil {
		svc = NewPredictService(testLogger(), nil, ws, utils.New(), 0.5)
	} else {
		svc = NewPredictService(testLogger(), runner, ws, utils.New(), 0.5)
	}

	return svc, uploadDir, outputDir
}

// uploadHeader builds a real multipart.FileHeader so the service exercises
// the same path the handler hands it.
func uploadHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() failed: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("writing form file failed: %v", err)
	}
	writer.Close()

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("ReadForm() failed: %v", err)
	}
	t.Cleanup(func() { form.RemoveAll() })

	return form.File["file"][0]
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) failed: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPredictModelNotLoaded(t *testing.T) {
	svc, uploadDir, _ := newTestService(t, nil, true)

	_, err := svc.Predict(context.Background(), uploadHeader(t, "cat.png", []byte("png-bytes")))
	if !errors.Is(err, predict.ErrModelNotLoaded) {
		t.Fatalf("expected ErrModelNotLoaded, got %v", err)
	}

	if got := dirEntries(t, uploadDir); len(got) != 0 {
		t.Fatalf("expected no temp writes in degraded mode, found %v", got)
	}
}

func TestPredictSuccess(t *testing.T) {
	annotated := []byte("annotated-png-bytes")
	runner := &mockRunner{annotated: annotated}
	svc, uploadDir, _ := newTestService(t, runner, true)

	result, err := svc.Predict(context.Background(), uploadHeader(t, "cat.png", []byte("png-bytes")))
	if err != nil {
		t.Fatalf("Predict() failed: %v", err)
	}

	if result.ContentType != "image/png" {
		t.Errorf("expected image/png, got %s", result.ContentType)
	}
	if !bytes.Equal(result.Data, annotated) {
		t.Errorf("response body does not match annotated bytes")
	}
	if len(result.Detections) != 1 {
		t.Errorf("expected 1 detection, got %d", len(result.Detections))
	}

	if got := dirEntries(t, uploadDir); len(got) != 0 {
		t.Errorf("temp input not removed after success: %v", got)
	}
}

func TestPredictContentTypeFollowsExtension(t *testing.T) {
	cases := map[string]string{
		"photo.jpg":  "image/jpeg",
		"photo.jpeg": "image/jpeg",
		"photo.png":  "image/png",
	}
	for name, want := range cases {
		runner := &mockRunner{annotated: []byte("x")}
		svc, _, _ := newTestService(t, runner, true)

		result, err := svc.Predict(context.Background(), uploadHeader(t, name, []byte("data")))
		if err != nil {
			t.Fatalf("Predict(%s) failed: %v", name, err)
		}
		if result.ContentType != want {
			t.Errorf("Predict(%s): content type = %s, want %s", name, result.ContentType, want)
		}
	}
}

func TestPredictOutputFallbackSearch(t *testing.T) {
	// Runner saves under a name that differs from the input filename; the
	// fallback scan must still find it.
	runner := &mockRunner{annotated: []byte("x"), saveAs: "result0.jpg"}
	svc, _, _ := newTestService(t, runner, true)

	result, err := svc.Predict(context.Background(), uploadHeader(t, "cat.png", []byte("data")))
	if err != nil {
		t.Fatalf("Predict() failed: %v", err)
	}
	if !bytes.Equal(result.Data, []byte("x")) {
		t.Errorf("fallback search did not return annotated bytes")
	}
}

func TestPredictNoOutputFile(t *testing.T) {
	runner := &mockRunner{noOutput: true}
	svc, uploadDir, _ := newTestService(t, runner, true)

	_, err := svc.Predict(context.Background(), uploadHeader(t, "cat.png", []byte("data")))
	if !errors.Is(err, predict.ErrOutputNotFound) {
		t.Fatalf("expected ErrOutputNotFound, got %v", err)
	}

	if got := dirEntries(t, uploadDir); len(got) != 0 {
		t.Errorf("temp input not removed after missing output: %v", got)
	}
}

func TestPredictRunnerError(t *testing.T) {
	runner := &mockRunner{err: errors.New("model exploded")}
	svc, uploadDir, _ := newTestService(t, runner, true)

	_, err := svc.Predict(context.Background(), uploadHeader(t, "cat.png", []byte("data")))
	if err == nil {
		t.Fatal("expected an error")
	}

	var respErr *response.Error
	if !errors.As(err, &respErr) || respErr.Code != 500 {
		t.Fatalf("expected structured 500 error, got %v", err)
	}
	if !strings.Contains(err.Error(), "internal error during inference") {
		t.Errorf("unexpected message: %v", err)
	}

	if got := dirEntries(t, uploadDir); len(got) != 0 {
		t.Errorf("temp input not removed after inference error: %v", got)
	}
}

func TestPredictRetentionPolicy(t *testing.T) {
	t.Run("retain", func(t *testing.T) {
		runner := &mockRunner{annotated: []byte("x")}
		svc, _, outputDir := newTestService(t, runner, true)

		if _, err := svc.Predict(context.Background(), uploadHeader(t, "cat.png", []byte("data"))); err != nil {
			t.Fatalf("Predict() failed: %v", err)
		}
		if got := dirEntries(t, outputDir); len(got) != 1 {
			t.Errorf("expected retained output dir, found %v", got)
		}
	})

	t.Run("discard", func(t *testing.T) {
		runner := &mockRunner{annotated: []byte("x")}
		svc, _, outputDir := newTestService(t, runner, false)

		if _, err := svc.Predict(context.Background(), uploadHeader(t, "cat.png", []byte("data"))); err != nil {
			t.Fatalf("Predict() failed: %v", err)
		}
		if got := dirEntries(t, outputDir); len(got) != 0 {
			t.Errorf("expected output dir removed, found %v", got)
		}
	})
}

func TestPredictConcurrentRequestsDoNotCollide(t *testing.T) {
	runner := &mockRunner{annotated: []byte("x")}
	svc, _, _ := newTestService(t, runner, true)

	const n = 8
	headers := make([]*multipart.FileHeader, n)
	for i := range headers {
		headers[i] = uploadHeader(t, "cat.png", []byte("data"))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Predict(context.Background(), headers[i]); err != nil {
				t.Errorf("Predict() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	seenDirs := make(map[string]bool)
	seenInputs := make(map[string]bool)
	for _, d := range runner.outputDirs {
		if seenDirs[d] {
			t.Fatalf("output dir reused across requests: %s", d)
		}
		seenDirs[d] = true
	}
	for _, p := range runner.inputPaths {
		if seenInputs[p] {
			t.Fatalf("input path reused across requests: %s", p)
		}
		seenInputs[p] = true
	}
}

// pngFrame encodes a blank image of the given size as PNG bytes.
func pngFrame(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encoding frame failed: %v", err)
	}
	return buf.Bytes()
}

func TestProcessFrameModelNotLoaded(t *testing.T) {
	svc, _, _ := newTestService(t, nil, true)

	_, err := svc.ProcessFrame(pngFrame(t, 320, 240))
	if !errors.Is(err, predict.ErrModelNotLoaded) {
		t.Fatalf("expected ErrModelNotLoaded, got %v", err)
	}
}

func TestProcessFrameInvalidBytes(t *testing.T) {
	runner := &mockRunner{}
	svc, _, _ := newTestService(t, runner, true)

	_, err := svc.ProcessFrame([]byte("not an image"))
	if !errors.Is(err, predict.ErrInvalidFileType) {
		t.Fatalf("expected ErrInvalidFileType, got %v", err)
	}
	if len(runner.frames) != 0 {
		t.Errorf("undecodable frame was forwarded to the runner")
	}
}

func TestProcessFrameSmallFramePassthrough(t *testing.T) {
	runner := &mockRunner{}
	svc, _, _ := newTestService(t, runner, true)

	frame := pngFrame(t, 320, 240)
	if _, err := svc.ProcessFrame(frame); err != nil {
		t.Fatalf("ProcessFrame() failed: %v", err)
	}

	if len(runner.frames) != 1 {
		t.Fatalf("expected 1 forwarded frame, got %d", len(runner.frames))
	}
	if !bytes.Equal(runner.frames[0], frame) {
		t.Errorf("small frame was re-encoded instead of passed through")
	}
}

func TestProcessFrameDownscalesWideFrames(t *testing.T) {
	runner := &mockRunner{}
	svc, _, _ := newTestService(t, runner, true)

	if _, err := svc.ProcessFrame(pngFrame(t, 1280, 720)); err != nil {
		t.Fatalf("ProcessFrame() failed: %v", err)
	}

	if len(runner.frames) != 1 {
		t.Fatalf("expected 1 forwarded frame, got %d", len(runner.frames))
	}

	forwarded, err := imaging.Decode(bytes.NewReader(runner.frames[0]))
	if err != nil {
		t.Fatalf("decoding forwarded frame failed: %v", err)
	}
	if got := forwarded.Bounds().Dx(); got != 640 {
		t.Errorf("forwarded frame width = %d, want 640", got)
	}
	if got := forwarded.Bounds().Dy(); got != 360 {
		t.Errorf("forwarded frame height = %d, want 360 (aspect preserved)", got)
	}
}
