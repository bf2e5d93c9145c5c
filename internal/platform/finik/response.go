package finik

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// PaymentResult is the decoded outcome of a create-payment call. Exactly one
// of the variants is returned by decodeCreateResponse.
type PaymentResult interface {
	isPaymentResult()
}

// Redirect is a 301/302 answer. The Location header is the hosted payment page.
type Redirect struct {
	URL    string
	Status int
}

// Created is a 201 answer carrying the payment page in the body.
type Created struct {
	PaymentURL string `json:"paymentUrl"`
	PaymentID  string `json:"paymentId"`
}

// Failed is any other status. Body is the raw response; Message is the
// structured error text when the body was JSON.
type Failed struct {
	Status  int
	Body    []byte
	Message string
}

func (Redirect) isPaymentResult() {}
func (Created) isPaymentResult()  {}
func (Failed) isPaymentResult()   {}

// PaymentURL returns the page the payer should be sent to, if any.
func PaymentURL(r PaymentResult) (string, bool) {
	switch v := r.(type) {
	case Redirect:
		return v.URL, v.URL != ""
	case Created:
		return v.PaymentURL, v.PaymentURL != ""
	}
	return "", false
}

func decodeCreateResponse(status int, header http.Header, body []byte) PaymentResult {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound:
		return Redirect{URL: header.Get("Location"), Status: status}
	case http.StatusCreated:
		var c Created
		if err := json.Unmarshal(body, &c); err != nil {
			return Failed{Status: status, Body: body, Message: "undecodable 201 body: " + err.Error()}
		}
		return c
	default:
		return Failed{Status: status, Body: body, Message: errorMessage(body)}
	}
}

// errorMessage extracts a readable message from a JSON error body. Bodies
// that are not JSON are returned verbatim.
func errorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return string(trimmed)
	}
	for _, k := range []string{"message", "Message", "error", "errorMessage"} {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	compact, err := json.Marshal(obj)
	if err != nil {
		return string(trimmed)
	}
	return string(compact)
}
