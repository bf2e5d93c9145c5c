package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mw "github.com/studkg/cashier/internal/app/api/middleware"
	"github.com/studkg/cashier/internal/app/service/payment"
	"github.com/studkg/cashier/internal/platform/finik"
	"github.com/studkg/cashier/pkg/logctx"
	"github.com/studkg/cashier/pkg/response"
)

// paymentErrorCode maps service errors onto envelope codes.
func paymentErrorCode(err error) response.APIResponseCode {
	var gwErr *finik.GatewayError
	switch {
	case errors.Is(err, payment.ErrInvalidPlan),
		errors.Is(err, payment.ErrRegistrationRequired),
		errors.Is(err, payment.ErrRegistrationInvalid):
		return response.APIResponseCodeBadRequest
	case errors.Is(err, payment.ErrRegistrationConflict):
		return response.APIResponseCodeConflict
	case errors.Is(err, payment.ErrUserNotFound), errors.Is(err, payment.ErrPaymentNotFound):
		return response.APIResponseCodeNotFound
	case errors.As(err, &gwErr):
		return response.APIResponseCodeGateway
	default:
		return response.APIResponseCodeError
	}
}

// @Summary      Create Finik Payment
// @Description  Prices a plan for the caller, applying referral discount and bonus balance, and returns the hosted payment URL. Anonymous callers must send registration data; the account is created when the payment succeeds.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        X-User-ID  header  string  false  "Authenticated user id"
// @Param        request    body    payment.CreatePaymentRequest  true  "Plan and pricing options"
// @Success      200  {object}  handlers.RespCreatePayment
// @Router       /api/v1/payment/finik/create [post]
func ApiCreatePayment(svc *payment.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.CreatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		req.UserID = mw.UserID(c)

		res, err := svc.CreatePayment(c.Request.Context(), &req)
		if err != nil {
			code := paymentErrorCode(err)
			if code == response.APIResponseCodeError {
				logctx.FromGin(c, log).Errorw("create_payment_failed", "error", err.Error())
			}
			c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Payment Status
// @Description  Reports a payment by the id carried in the success-page redirect.
// @Tags         Payment
// @Produce      json
// @Param        X-User-ID  header  string  false  "Authenticated user id"
// @Param        paymentId  query   string  true   "Local payment id"
// @Success      200  {object}  handlers.RespPaymentStatus
// @Router       /api/v1/payment/status [get]
func ApiPaymentStatus(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentID := strings.TrimSpace(c.Query("paymentId"))
		if paymentID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing paymentId"))
			return
		}
		res, err := svc.GetPaymentStatus(c.Request.Context(), paymentID, mw.UserID(c))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](paymentErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterPaymentRoutes(r gin.IRouter, svc *payment.Service, log *zap.SugaredLogger) {
	r.POST("/finik/create", ApiCreatePayment(svc, log))
	r.GET("/status", ApiPaymentStatus(svc))
}
