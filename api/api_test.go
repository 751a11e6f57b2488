package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/notigate/notigate/dispatch"
	"github.com/notigate/notigate/gateway"
	"github.com/notigate/notigate/policy"
	"github.com/notigate/notigate/window"
)

func newTestServer(t *testing.T, dispatcher dispatch.Dispatcher) *httptest.Server {
	t.Helper()

	if dispatcher == nil {
		dispatcher = dispatch.Func(func(context.Context, string, string) error { return nil })
	}

	limits, err := policy.New(policy.Defaults())
	if err != nil {
		t.Fatalf("failed to create policy: %v", err)
	}
	gw, err := gateway.New(window.NewMemoryStore(), limits, dispatcher)
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}

	auth := NewAuth("test-secret", "admin", "password", 30*time.Minute)
	srv := httptest.NewServer(NewRouter(gw, auth))
	t.Cleanup(srv.Close)
	return srv
}

func fetchToken(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	resp, err := http.PostForm(srv.URL+"/token", url.Values{
		"username": {"admin"},
		"password": {"password"},
	})
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("token decode failed: %v", err)
	}
	if body.AccessToken == "" || body.TokenType != "bearer" {
		t.Fatalf("unexpected token response: %+v", body)
	}
	return body.AccessToken
}

func doJSON(t *testing.T, method, rawURL, token, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, rawURL, reader)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestToken_RejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.PostForm(srv.URL+"/token", url.Values{
		"username": {"admin"},
		"password": {"wrong"},
	})
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", "",
		`{"category":"status","recipient":"a@x.com","message":"hi"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/rate-limits/", "not-a-token", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with garbage token = %d, want 401", resp.StatusCode)
	}
}

func TestSendNotification_Flow(t *testing.T) {
	srv := newTestServer(t, nil)
	token := fetchToken(t, srv)

	payload := `{"category":"status","recipient":"a@x.com","message":"update"}`

	for i := 0; i < 2; i++ {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", token, payload)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("send %d status = %d, want 200 (body %v)", i+1, resp.StatusCode, body)
		}
		if body["message"] != "Notification sent to a@x.com" {
			t.Errorf("send %d message = %v", i+1, body["message"])
		}
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", token, payload)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third send status = %d, want 429", resp.StatusCode)
	}
	if body["detail"] != "Rate limit exceeded for status to a@x.com" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestSendNotification_LegacyFieldName(t *testing.T) {
	srv := newTestServer(t, nil)
	token := fetchToken(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", token,
		`{"notification_type":"news","recipient":"b@x.com","message":"daily"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSendNotification_BadRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	token := fetchToken(t, srv)

	cases := []struct {
		name string
		body string
	}{
		{"unknown category", `{"category":"promotions","recipient":"a@x.com","message":"hi"}`},
		{"invalid recipient", `{"category":"status","recipient":"not-an-address","message":"hi"}`},
		{"malformed json", `{"category":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", token, tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSendNotification_DeliveryFailure(t *testing.T) {
	failing := dispatch.Func(func(_ context.Context, recipient, _ string) error {
		return &dispatch.DeliveryError{Recipient: recipient, Err: errors.New("transport down")}
	})
	srv := newTestServer(t, failing)
	token := fetchToken(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", token,
		`{"category":"status","recipient":"a@x.com","message":"hi"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestRateLimits_RoundTrip(t *testing.T) {
	srv := newTestServer(t, nil)
	token := fetchToken(t, srv)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/rate-limits/", token,
		`{"status_count":5,"status_period":120}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/rate-limits/", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	status, ok := body["status"].(map[string]any)
	if !ok {
		t.Fatalf("missing status rule in %v", body)
	}
	if status["max_count"] != float64(5) || status["period_seconds"] != float64(120) {
		t.Errorf("status rule = %v, want 5 per 120s", status)
	}
}

func TestRateLimits_InvalidUpdate(t *testing.T) {
	srv := newTestServer(t, nil)
	token := fetchToken(t, srv)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/rate-limits/", token, `{"marketing_count":0}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	// Prior rule must be unchanged.
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/rate-limits/", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	marketing, _ := body["marketing"].(map[string]any)
	if marketing["max_count"] != float64(3) {
		t.Errorf("marketing rule = %v, want untouched max_count 3", marketing)
	}
}

func TestRateLimits_UnrecognizedField(t *testing.T) {
	srv := newTestServer(t, nil)
	token := fetchToken(t, srv)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/rate-limits/", token, `{"status_burst":5}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestClearNotifications_ResetsBudgets(t *testing.T) {
	srv := newTestServer(t, nil)
	token := fetchToken(t, srv)

	payload := `{"category":"news","recipient":"a@x.com","message":"daily"}`

	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", token, payload); resp.StatusCode != http.StatusOK {
		t.Fatalf("first send status = %d, want 200", resp.StatusCode)
	}
	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", token, payload); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second send status = %d, want 429", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodDelete, srv.URL+"/notifications", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", resp.StatusCode)
	}
	if body["message"] != "All notifications cleared successfully" {
		t.Errorf("clear message = %v", body["message"])
	}

	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", token, payload); resp.StatusCode != http.StatusOK {
		t.Errorf("send after clear status = %d, want 200", resp.StatusCode)
	}
}

func TestUsage_ReportsCounts(t *testing.T) {
	srv := newTestServer(t, nil)
	token := fetchToken(t, srv)

	for i := 0; i < 2; i++ {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/send-notification/", token,
			`{"category":"status","recipient":"a@x.com","message":"u"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("send %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/usage/", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("usage status = %d, want 200", resp.StatusCode)
	}
	recipient, _ := body["a@x.com"].(map[string]any)
	if recipient["status"] != float64(2) {
		t.Errorf("usage = %v, want a@x.com/status = 2", body)
	}
}
