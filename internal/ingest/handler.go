package ingest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"deskrelay/internal/logger"
	"deskrelay/pkg/errors"
)

// Provider headers carrying the delivery signature and its timestamp.
const (
	SignatureHeader = "X-Relay-Signature"
	TimestampHeader = "X-Relay-Timestamp"
)

type Handler struct {
	service         *Service
	maxPayloadBytes int64
	logger          logger.Logger
}

func NewHandler(service *Service, maxPayloadBytes int64, log logger.Logger) *Handler {
	return &Handler{
		service:         service,
		maxPayloadBytes: maxPayloadBytes,
		logger:          log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/webhooks/inbound-email", h.HandleInboundEmail)
}

// HandleInboundEmail godoc
// @Summary      Accept an inbound email delivery
// @Description  Verifies, parses, and stores one inbound email delivered by the relay provider
// @Tags         webhooks
// @Accept       multipart/form-data
// @Produce      json
// @Param        X-Relay-Signature  header  string  true  "HMAC-SHA256 signature of the delivery"
// @Param        X-Relay-Timestamp  header  string  true  "Unix timestamp the signature covers"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Failure      429  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /webhooks/inbound-email [post]
func (h *Handler) HandleInboundEmail(c *gin.Context) {
	requestID := c.GetString("request_id")

	// MaxBytesReader backs the extractor's parse limit so an oversized
	// body is cut off at the transport instead of buffered in full.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxPayloadBytes)

	result, err := h.service.Process(
		c.Request.Context(),
		c.GetHeader(SignatureHeader),
		c.GetHeader(TimestampHeader),
		c.Request,
	)
	if err != nil {
		h.respondError(c, requestID, err)
		return
	}

	response := gin.H{
		"success":   true,
		"ticketId":  result.TicketID,
		"messageId": result.MessageID,
		"requestId": requestID,
	}
	if result.Duplicate {
		response["duplicate"] = true
	}
	if result.Notification != nil {
		response["notification"] = result.Notification
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) respondError(c *gin.Context, requestID string, err error) {
	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)
	response["requestId"] = requestID

	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Delivery failed",
			"error", err,
			"path", c.Request.URL.Path,
		)
	}

	c.JSON(status, response)
}
