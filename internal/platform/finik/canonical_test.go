package finik

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustString(t *testing.T, r *CanonicalRequest) string {
	t.Helper()
	s, err := r.String()
	require.NoError(t, err)
	return s
}

func TestCanonicalRequest_OutboundPayment(t *testing.T) {
	body, err := DecodeBody([]byte(`{"b":{"d":3,"c":2},"a":1}`))
	require.NoError(t, err)

	r := &CanonicalRequest{
		Method: "POST",
		Path:   "/v1/payment",
		Headers: map[string]string{
			"Host":            "api.acquiring.averspay.kg",
			"x-api-key":       "k",
			"x-api-timestamp": "1700000000000",
		},
		Body: body,
	}

	want := "post\n/v1/payment\nhost:api.acquiring.averspay.kg&x-api-key:k&x-api-timestamp:1700000000000\n" +
		`{"a":1,"b":{"c":2,"d":3}}`
	require.Equal(t, want, mustString(t, r))
}

func TestCanonicalRequest_HeaderSelectionAndOrder(t *testing.T) {
	a := &CanonicalRequest{Method: "post", Path: "/p", Headers: map[string]string{
		"X-API-Timestamp": "1",
		"Content-Type":    "application/json",
		"host":            "h",
		"X-Api-Key":       " spaced ",
		"signature":       "abc",
	}}
	b := &CanonicalRequest{Method: "POST", Path: "/p", Headers: map[string]string{
		"signature":       "abc",
		"X-Api-Key":       " spaced ",
		"Host":            "h",
		"x-api-timestamp": "1",
	}}

	sa, sb := mustString(t, a), mustString(t, b)
	require.Equal(t, sa, sb)
	// values are kept verbatim, no separator after the last pair
	require.Equal(t, "host:h&x-api-key: spaced &x-api-timestamp:1", strings.Split(sa, "\n")[2])
}

func TestCanonicalRequest_QueryLine(t *testing.T) {
	base := CanonicalRequest{Method: "GET", Path: "/p", Headers: map[string]string{"host": "h"}}

	noQuery := base
	lines := strings.Split(mustString(t, &noQuery), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "", lines[3])

	withQuery := base
	withQuery.Query = map[string][]string{
		"z":       {"last"},
		"a b":     {"x y!*'()~"},
		"multi":   {"1", "2"},
		"unicode": {"сом"},
	}
	lines = strings.Split(mustString(t, &withQuery), "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "a%20b=x%20y!*'()~&multi=1%2C2&unicode=%D1%81%D0%BE%D0%BC&z=last", lines[3])
	require.Equal(t, "", lines[4])
}

func TestCanonicalBody(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", ``, ``},
		{"empty object", `{}`, ``},
		{"nested sort", `{"z":{"y":1,"x":{"b":true,"a":null}},"a":"v"}`, `{"a":"v","z":{"x":{"a":null,"b":true},"y":1}}`},
		{"arrays keep order", `{"list":[3,1,{"b":1,"a":2}]}`, `{"list":[3,1,{"a":2,"b":1}]}`},
		{"no html escaping", `{"url":"https://stud.kg/payment/success?paymentId=1&x=<y>"}`, `{"url":"https://stud.kg/payment/success?paymentId=1&x=<y>"}`},
		{"numbers kept", `{"amount":1000,"big":90071992547409931}`, `{"amount":1000,"big":90071992547409931}`},
		{"non-ascii literal", `{"description":"Подписка"}`, `{"description":"Подписка"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := DecodeBody([]byte(tc.in))
			require.NoError(t, err)
			got, err := CanonicalBody(v)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalBody_TypedPayloadSorted(t *testing.T) {
	req := &PaymentRequest{
		Amount:      1000,
		CardType:    "FINIK_QR",
		PaymentId:   "p-1",
		RedirectUrl: "https://stud.kg/payment/success?paymentId=p-1",
		Data: PaymentData{
			AccountID:      "acc",
			NameEn:         "Subscription individual 1 months",
			SubscriptionID: "s-1",
		},
	}
	generic, err := ToGeneric(req)
	require.NoError(t, err)
	got, err := CanonicalBody(generic)
	require.NoError(t, err)
	require.Equal(t,
		`{"Amount":1000,"CardType":"FINIK_QR","Data":{"accountId":"acc","description":"","merchantCategoryCode":"","name_en":"Subscription individual 1 months","subscriptionId":"s-1","webhookUrl":""},"PaymentId":"p-1","RedirectUrl":"https://stud.kg/payment/success?paymentId=p-1"}`,
		got)
}

func TestDecodeBody_Invalid(t *testing.T) {
	_, err := DecodeBody([]byte(`{"a":`))
	require.Error(t, err)
}

func TestNewCanonicalRequestFromHTTP(t *testing.T) {
	body := `{"transactionId":"t-1","id":"p-1","status":"SUCCEEDED"}`
	req := httptest.NewRequest("POST", "http://merchant.example/webhooks/finik?b=2&a=1", strings.NewReader(body))
	req.Header.Set("X-Api-Timestamp", "1700000000000")
	req.Header.Set("Signature", "sig")
	req.Header.Set("Content-Type", "application/json")

	cr, err := NewCanonicalRequestFromHTTP(req, []byte(body))
	require.NoError(t, err)

	want := "post\n/webhooks/finik\nhost:merchant.example&x-api-timestamp:1700000000000\na=1&b=2\n" +
		`{"id":"p-1","status":"SUCCEEDED","transactionId":"t-1"}`
	require.Equal(t, want, mustString(t, cr))
}

func TestNewCanonicalRequestFromHTTP_RawPath(t *testing.T) {
	for _, path := range []string{"/webhooks/fin%20ik", "/webhooks/a%2Fb"} {
		req := httptest.NewRequest("POST", "http://merchant.example"+path+"?x=1", nil)
		cr, err := NewCanonicalRequestFromHTTP(req, nil)
		require.NoError(t, err)
		require.Equal(t, path, cr.Path)
	}
}

func TestCanonicalBody_LiteralSeparators(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"line separator":      {in: "{\"description\":\"a\u2028b\"}", want: "{\"description\":\"a\u2028b\"}"},
		"paragraph separator": {in: "{\"d\":\"\u2029\"}", want: "{\"d\":\"\u2029\"}"},
		"escaped in input":    {in: `{"d":"a\u2028b"}`, want: "{\"d\":\"a\u2028b\"}"},
		"escaped backslash":   {in: `{"d":"\\u2028"}`, want: `{"d":"\\u2028"}`},
		"other escapes kept":  {in: `{"d":"\u0001\"x\""}`, want: `{"d":"\u0001\"x\""}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := DecodeBody([]byte(tc.in))
			require.NoError(t, err)
			got, err := CanonicalBody(v)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	// invalid UTF-8 is emitted as the replacement character itself
	got, err := CanonicalBody(map[string]any{"d": "a\xffb"})
	require.NoError(t, err)
	require.Equal(t, "{\"d\":\"a\ufffdb\"}", got)
}
