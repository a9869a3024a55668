package transport

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ReminderHandler struct {
	reminders  service.ReminderService
	cronSecret string
}

func NewReminderHandler(reminders service.ReminderService, cronSecret string) *ReminderHandler {
	return &ReminderHandler{reminders: reminders, cronSecret: cronSecret}
}

// Sweep is the external trigger for the reminder sweep. Callers authenticate
// with "Authorization: Bearer <cron secret>".
func (h *ReminderHandler) Sweep(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	report, err := h.reminders.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	if report.Failed > 0 {
		logrus.WithField("failed", report.Failed).Warn("Reminder sweep finished with failures")
	}
	respondOK(c, http.StatusOK, "", report)
}

func (h *ReminderHandler) authorized(header string) bool {
	if h.cronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}
