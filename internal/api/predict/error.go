package predict

import (
	"net/http"

	"github.com/kamiya-yoshiyuki/yolov8/pkg/response"
)

var (
	ErrNoFileUploaded  = response.NewError(http.StatusBadRequest, "no file uploaded")
	ErrInvalidFileType = response.NewError(http.StatusBadRequest, "invalid file type, allowed: .jpg, .jpeg, .png")
	ErrModelNotLoaded  = response.NewError(http.StatusServiceUnavailable, "model is unavailable, check the server")
	ErrSaveUpload      = response.NewError(http.StatusInternalServerError, "failed to store uploaded file")
	ErrOutputNotFound  = response.NewError(http.StatusInternalServerError, "failed to save inference result")
	ErrSendResult      = response.NewError(http.StatusInternalServerError, "failed to send result file")
)
