package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/gin-gonic/gin"
)

const maxBatchSize = 50

type SMSHandler struct {
	dispatch service.DispatchService
	delivery service.DeliveryService
}

func NewSMSHandler(dispatch service.DispatchService, delivery service.DeliveryService) *SMSHandler {
	return &SMSHandler{dispatch: dispatch, delivery: delivery}
}

type SendSMSRequest struct {
	To      string `json:"to" binding:"required"`
	Message string `json:"message" binding:"required,max=1600"`
}

type StatusBatchRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// BookingHistory returns every attempt for a booking, newest first.
func (h *SMSHandler) BookingHistory(c *gin.Context) {
	attempts, err := h.dispatch.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    attempts,
		Meta:    gin.H{"count": len(attempts)},
	})
}

func (h *SMSHandler) Search(c *gin.Context) {
	filter, err := parseAttemptFilter(c)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	attempts, err := h.dispatch.Search(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    attempts,
		Meta:    gin.H{"count": len(attempts)},
	})
}

func (h *SMSHandler) Send(c *gin.Context) {
	var req SendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	res := h.dispatch.SendAdHoc(c.Request.Context(), strings.TrimSpace(req.To), req.Message)
	if !res.Success {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": res.ErrorText, "data": res})
		return
	}
	respondOK(c, http.StatusOK, "sms sent", res)
}

func (h *SMSHandler) Retry(c *gin.Context) {
	res, err := h.dispatch.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": res.ErrorText, "data": res})
		return
	}
	respondOK(c, http.StatusOK, "sms re-sent", res)
}

func (h *SMSHandler) Status(c *gin.Context) {
	sid := c.Param("sid")

	status, err := h.delivery.RefreshStatus(c.Request.Context(), sid)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", gin.H{"sid": sid, "status": status})
}

func (h *SMSHandler) StatusBatch(c *gin.Context) {
	var req StatusBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) > maxBatchSize {
		respondBadRequest(c, "at most "+strconv.Itoa(maxBatchSize)+" ids per request")
		return
	}

	results := h.delivery.RefreshBatch(c.Request.Context(), req.IDs)
	respondOK(c, http.StatusOK, "", results)
}

func parseAttemptFilter(c *gin.Context) (entity.AttemptFilter, error) {
	f := entity.AttemptFilter{
		BookingID: c.Query("booking_id"),
		Phone:     c.Query("phone"),
		Status:    entity.DeliveryStatus(c.Query("status")),
		Limit:     100,
	}

	switch f.Status {
	case "", entity.DeliveryPending, entity.DeliverySent, entity.DeliveryDelivered, entity.DeliveryFailed:
	default:
		return f, errBadQuery("status must be one of pending, sent, delivered, failed")
	}

	var err error
	if f.From, err = parseTimeQuery(c.Query("from"), false); err != nil {
		return f, errBadQuery("from must be YYYY-MM-DD or RFC3339")
	}
	if f.To, err = parseTimeQuery(c.Query("to"), true); err != nil {
		return f, errBadQuery("to must be YYYY-MM-DD or RFC3339")
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, errBadQuery("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

// parseTimeQuery accepts a date or an RFC3339 instant. A bare date used as an
// upper bound covers the whole day.
func parseTimeQuery(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := entity.ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}

type errBadQuery string

func (e errBadQuery) Error() string { return string(e) }
