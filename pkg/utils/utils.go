package utils

import (
	"crypto/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	IsAllowedImageExt(filename string) bool
	IsImageFile(filename string) bool
	ContentTypeForExt(ext string) string
}

type utils struct{}

func New() IUtils {
	return &utils{}
}

// allowedExts are the upload formats accepted by the predict endpoint.
var allowedExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// imageExts covers everything the model runner may emit, used by the
// fallback search over an output directory.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func (u *utils) IsAllowedImageExt(filename string) bool {
	return allowedExts[strings.ToLower(filepath.Ext(filename))]
}

func (u *utils) IsImageFile(filename string) bool {
	return imageExts[strings.ToLower(filepath.Ext(filename))]
}

// ContentTypeForExt maps an upload extension to the response content type.
// The jpg alias folds into image/jpeg.
func (u *utils) ContentTypeForExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "jpg" {
		ext = "jpeg"
	}
	return "image/" + ext
}
