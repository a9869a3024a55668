package transport

import (
	"net/http"

	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	slotService service.SlotService
}

func NewBookingHandler(slotService service.SlotService) *BookingHandler {
	return &BookingHandler{slotService: slotService}
}

func (h *BookingHandler) GetAvailability(c *gin.Context) {
	date := c.Query("date")

	slots, err := h.slotService.ListAvailability(c.Request.Context(), date)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    slots,
		Meta:    gin.H{"date": date},
	})
}

func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	booking, err := h.slotService.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, "booking confirmed", gin.H{
		"reference": booking.ID,
		"booking":   booking,
	})
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.slotService.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", booking)
}

// Административные обработчики

func (h *BookingHandler) ListBookings(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		respondBadRequest(c, "date query parameter is required")
		return
	}

	bookings, err := h.slotService.ListBookingsByDate(c.Request.Context(), date)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    bookings,
		Meta:    gin.H{"date": date, "count": len(bookings)},
	})
}

func (h *BookingHandler) CancelBooking(c *gin.Context) {
	booking, err := h.slotService.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "booking cancelled", booking)
}

func (h *BookingHandler) RescheduleBooking(c *gin.Context) {
	var req service.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	booking, err := h.slotService.Reschedule(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "booking rescheduled", booking)
}

func (h *BookingHandler) DeleteBooking(c *gin.Context) {
	if err := h.slotService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "booking deleted", nil)
}
