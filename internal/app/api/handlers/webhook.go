package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	nh "github.com/studkg/cashier/internal/app/service/notification_handler"
	"github.com/studkg/cashier/pkg/logctx"
)

// maxWebhookBody caps a notification body. Finik deliveries are a few hundred bytes.
const maxWebhookBody = 1 << 20

// @Summary      Finik Webhook
// @Description  Receives a signed Finik payment notification. The reply is plain text and the status tells the gateway whether to retry.
// @Tags         Webhook
// @Accept       json
// @Produce      plain
// @Param        signature        header  string  true  "Base64 RSA-SHA256 signature of the canonical request"
// @Param        x-api-timestamp  header  string  true  "Unix milliseconds"
// @Param        payload          body    nh.Notification  true  "Notification"
// @Success      200  {string}  string  "OK"
// @Failure      400  {string}  string
// @Failure      401  {string}  string
// @Failure      404  {string}  string
// @Failure      408  {string}  string
// @Router       /webhooks/finik [post]
func ApiFinikWebhook(h *nh.NotificationHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, h.Logger)
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.Warnw("webhook_finik_body_too_large", "limit", tooLarge.Limit)
				c.String(http.StatusRequestEntityTooLarge, "Payload too large")
				return
			}
			log.Warnw("webhook_finik_read_failed", "error", err.Error())
			c.String(http.StatusBadRequest, "Invalid JSON")
			return
		}

		res := h.HandleNotification(c.Request.Context(), c.Request, body)
		c.String(res.Status, res.Body)
	}
}

// @Summary      Finik Webhook Probe
// @Description  Lets operators and the gateway check that the webhook endpoint is reachable.
// @Tags         Webhook
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /webhooks/finik [get]
func ApiFinikWebhookProbe(c *gin.Context) {
	c.JSON(http.StatusOK, nh.ProbeInfo(c.Request))
}

// RegisterWebhookRoutes mounts the notification endpoint at path, which must
// match the webhook URL sent with each payment.
func RegisterWebhookRoutes(r gin.IRouter, path string, h *nh.NotificationHandler) {
	r.POST(path, ApiFinikWebhook(h))
	r.GET(path, ApiFinikWebhookProbe)
}
