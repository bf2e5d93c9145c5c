package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	mw "github.com/studkg/cashier/internal/app/api/middleware"
	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/pkg/response"
)

type ReferralCodeResponse struct {
	Code     string `json:"code"`
	Bonus    int    `json:"bonus"`
	Discount int    `json:"discount"`
}

type CheckReferralCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func referralErrorCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, referral.ErrInvalidCode),
		errors.Is(err, referral.ErrSelfReferral),
		errors.Is(err, referral.ErrCodeAlreadyUsed):
		return response.APIResponseCodeBadRequest
	case errors.Is(err, referral.ErrUserNotFound):
		return response.APIResponseCodeNotFound
	default:
		return response.APIResponseCodeError
	}
}

// @Summary      Get Referral Code
// @Description  Returns the caller's referral code, generating one on first use.
// @Tags         Referral
// @Produce      json
// @Param        X-User-ID  header  string  true  "Authenticated user id"
// @Success      200  {object}  handlers.RespReferralCode
// @Router       /api/v1/referral/code [post]
func ApiReferralCode(svc *referral.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := mw.UserID(c)
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeUnauthorized, "missing "+mw.HeaderUserID))
			return
		}
		code, err := svc.GetOrCreateReferralCode(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](referralErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ReferralCodeResponse{Code: code, Bonus: svc.BonusAmount(), Discount: svc.Discount()}))
	}
}

// @Summary      Check Referral Code
// @Description  Validates a referral code for the caller, or for a visitor who has not registered yet, without creating a link.
// @Tags         Referral
// @Accept       json
// @Produce      json
// @Param        X-User-ID  header  string  false  "Authenticated user id"
// @Param        request    body    CheckReferralCodeRequest  true  "Code to check"
// @Success      200  {object}  handlers.RespCheckReferralCode
// @Router       /api/v1/referral/check [post]
func ApiCheckReferralCode(svc *referral.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckReferralCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.CheckReferralCode(c.Request.Context(), req.Code, mw.UserID(c))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](referralErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterReferralRoutes(r gin.IRouter, svc *referral.Service) {
	r.POST("/code", ApiReferralCode(svc))
	r.POST("/check", ApiCheckReferralCode(svc))
}
