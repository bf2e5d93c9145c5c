package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/internal/app/service/statistics"
	"github.com/studkg/cashier/pkg/logctx"
	"github.com/studkg/cashier/pkg/response"
)

// @Summary      List Subscriptions (Admin)
// @Description  Retrieves a paginated and filterable list of subscription payments. Password hashes of pending registrations are blanked.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.ListSubscriptionsRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListSubscriptions
// @Router       /api/v1/admin/list_subscriptions [post]
func ApiListSubscriptions(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.ListSubscriptionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.ListSubscriptions(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Get Payment Statistics (Admin)
// @Description  Computes the requested payment and referral statistics.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.PaymentStatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespPaymentStatistic
// @Router       /api/v1/admin/payment_statistic [post]
func ApiGetPaymentStatistic(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.PaymentStatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetPaymentStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Run Bonus Sweep (Admin)
// @Description  Deactivates expired referral links and expires old bonus credits now instead of waiting for the scheduled sweep.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespBonusSweep
// @Router       /api/v1/admin/run_bonus_sweep [post]
func ApiRunBonusSweep(svc *referral.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.RunSweep(c.Request.Context())
		if err != nil {
			logctx.FromGin(c, log).Errorw("admin_bonus_sweep_failed", "error", err.Error())
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		logctx.FromGin(c, log).Infow("admin_bonus_sweep_done",
			"deactivated_referrals", res.DeactivatedReferrals,
			"expired_bonuses", res.ExpiredBonuses)
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, stats *statistics.Service, referrals *referral.Service, log *zap.SugaredLogger) {
	r.POST("/list_subscriptions", ApiListSubscriptions(stats))
	r.POST("/payment_statistic", ApiGetPaymentStatistic(stats))
	r.POST("/run_bonus_sweep", ApiRunBonusSweep(referrals, log))
}
