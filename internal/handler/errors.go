package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-settlement/internal/service"
)

// errorStatus maps engine errors to an HTTP status and a stable error
// code.  Unknown errors are internal.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrDrawNotFound):
		return http.StatusNotFound, "draw_not_found"
	case errors.Is(err, service.ErrAnomalyNotFound):
		return http.StatusNotFound, "anomaly_not_found"
	case errors.Is(err, service.ErrAffiliateNotFound):
		return http.StatusNotFound, "affiliate_not_found"
	case errors.Is(err, service.ErrNumberUnavailable):
		return http.StatusConflict, "number_unavailable"
	case errors.Is(err, service.ErrQuotaExhausted):
		return http.StatusConflict, "quota_exhausted"
	case errors.Is(err, service.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, service.ErrRangeOverlap):
		return http.StatusConflict, "range_overlap"
	case errors.Is(err, service.ErrDuplicatePaymentRef):
		return http.StatusConflict, "duplicate_payment_ref"
	case errors.Is(err, service.ErrExpiredBeforeConfirm):
		return http.StatusConflict, "expired_before_confirm"
	case errors.Is(err, service.ErrCancelledBeforeConfirm):
		return http.StatusConflict, "cancelled_before_confirm"
	case errors.Is(err, service.ErrCycleDetected):
		return http.StatusConflict, "cycle_detected"
	case errors.Is(err, service.ErrChainTooDeep):
		return http.StatusConflict, "chain_too_deep"
	case errors.Is(err, service.ErrNotSettled):
		return http.StatusConflict, "not_settled"
	case errors.Is(err, service.ErrDrawInactive):
		return http.StatusUnprocessableEntity, "draw_inactive"
	case errors.Is(err, service.ErrNumberOutOfRange):
		return http.StatusUnprocessableEntity, "number_out_of_range"
	case errors.Is(err, service.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity, "invalid_quantity"
	case errors.Is(err, service.ErrInvalidPhone):
		return http.StatusUnprocessableEntity, "invalid_phone"
	case errors.Is(err, service.ErrInvalidPaymentRef):
		return http.StatusUnprocessableEntity, "invalid_payment_ref"
	case errors.Is(err, service.ErrInvalidDraw):
		return http.StatusUnprocessableEntity, "invalid_draw"
	case errors.Is(err, service.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "gateway_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(c echo.Context, err error) error {
	status, code := errorStatus(err)
	body := echo.Map{"error": code}
	if status != http.StatusInternalServerError {
		body["message"] = err.Error()
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
