package handlers

import (
	"github.com/studkg/cashier/internal/app/service/payment"
	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/internal/app/service/statistics"
	"github.com/studkg/cashier/pkg/response"
)

// Envelope types below exist for swag; handlers return response.APIResponse.

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespCreatePayment struct {
	Code    response.APIResponseCode    `json:"code"`
	Message string                      `json:"message"`
	Data    payment.CreatePaymentResult `json:"data"`
}

type RespPaymentStatus struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    payment.StatusResult     `json:"data"`
}

type RespReferralCode struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ReferralCodeResponse     `json:"data"`
}

type RespCheckReferralCode struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    referral.CheckResult     `json:"data"`
}

type RespListSubscriptions struct {
	Code    response.APIResponseCode             `json:"code"`
	Message string                               `json:"message"`
	Data    statistics.ListSubscriptionsResponse `json:"data"`
}

type RespPaymentStatistic struct {
	Code    response.APIResponseCode            `json:"code"`
	Message string                              `json:"message"`
	Data    statistics.PaymentStatisticResponse `json:"data"`
}

type RespBonusSweep struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    referral.SweepResult     `json:"data"`
}
