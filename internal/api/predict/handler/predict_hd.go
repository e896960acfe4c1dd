package predictHandler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/kamiya-yoshiyuki/yolov8/internal/api/predict"
	contextPkg "github.com/kamiya-yoshiyuki/yolov8/pkg/context"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/handlerUtil"
	"github.com/kamiya-yoshiyuki/yolov8/pkg/log"
)

// PredictImage handles POST /predict/. Order matters: the extension check
// runs before anything touches the filesystem, and the model check before
// the upload is persisted. No timeout is enforced around inference.
func (h *PredictHandler) PredictImage(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c := contextPkg.FromFiberCtx(ctx)

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing predict request")

	file, err := ctx.FormFile("file")
	if err != nil {
		return errHandler.Handle(ctx, requestID, predict.ErrNoFileUploaded, ctx.Path(), "get_form_file")
	}

	if !h.utils.IsAllowedImageExt(file.Filename) {
		return errHandler.Handle(ctx, requestID, predict.ErrInvalidFileType, ctx.Path(), "validate_extension")
	}

	if !h.predictService.ModelLoaded() {
		return errHandler.Handle(ctx, requestID, predict.ErrModelNotLoaded, ctx.Path(), "check_model")
	}

	result, err := h.predictService.Predict(c, file)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "predict")
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
		"file_name":  file.Filename,
		"detections": len(result.Detections),
	}).Info("Prediction successful")

	ctx.Set(fiber.HeaderContentType, result.ContentType)
	return ctx.Status(fiber.StatusOK).Send(result.Data)
}

// handleStreamWebSocket accepts binary image frames and answers each with a
// JSON detection result. Errors are reported in-band and the loop continues.
func (h *PredictHandler) handleStreamWebSocket(c *websocket.Conn) {
	h.log.Info("Streaming detection client connected")
	defer h.log.Info("Streaming detection client disconnected")

	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			h.log.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	maxReadTimeout := 60 * time.Second

	for {
		if err := c.SetReadDeadline(time.Now().Add(maxReadTimeout)); err != nil {
			h.log.Errorf("Error setting read deadline: %v", err)
			break
		}

		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Errorf("Streaming WebSocket error: %v", err)
			} else {
				h.log.Info("Streaming WebSocket connection closed")
			}
			break
		}

		if messageType != websocket.BinaryMessage {
			h.log.Warnf("Received unexpected message type: %d", messageType)
			continue
		}

		result, err := h.predictService.ProcessFrame(message)
		if err != nil {
			h.log.Errorf("Error processing frame: %v", err)
			if writeErr := c.WriteJSON(map[string]string{"error": err.Error()}); writeErr != nil {
				h.log.Errorf("Error sending error response: %v", writeErr)
				break
			}
			continue
		}

		if err := c.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
			h.log.Errorf("Error setting write deadline: %v", err)
			break
		}

		if err := c.WriteJSON(result); err != nil {
			h.log.Errorf("Error writing JSON response: %v", err)
			break
		}

		if err := c.SetWriteDeadline(time.Time{}); err != nil {
			h.log.Errorf("Error resetting write deadline: %v", err)
			break
		}
	}
}
