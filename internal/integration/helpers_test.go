package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/app"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var keysToIgnore = map[string]struct{}{
	"timestamp": {},
	"requestId": {},
	"attemptId": {},
	"expiresAt": {},
	"grantedAt": {},
}

func prepareRequest(
	method, path string,
	body io.Reader,
	headers map[string]string,
	cookies []*http.Cookie) (*http.Request, error) {

	req := httptest.NewRequest(method, path, body)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	for _, c := range cookies {
		req.AddCookie(c)
	}

	return req, nil
}

func compareResponse(t testing.TB, body io.Reader, expectedResponse string) {
	var actual map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&actual))

	cleanMap(actual)

	var expected map[string]any
	require.NoError(t, json.Unmarshal([]byte(expectedResponse), &expected))

	opts := cmpopts.IgnoreMapEntries(func(k string, _ any) bool {
		_, ok := keysToIgnore[k]
		return ok
	})

	if diff := cmp.Diff(expected, actual, opts); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func cleanMap(m map[string]any) {
	for k := range m {
		if _, ok := keysToIgnore[k]; ok {
			delete(m, k)
			continue
		}

		switch nested := m[k].(type) {
		case map[string]any:
			cleanMap(nested)
		case []any:
			for _, item := range nested {
				if nestedMap, ok := item.(map[string]any); ok {
					cleanMap(nestedMap)
				}
			}
		}
	}
}

func executeSQLFile(t testing.TB, db *pgxpool.Pool, path string) {
	t.Helper()

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = db.Exec(context.Background(), string(content))
	require.NoError(t, err)
}

func countRows(t testing.TB, db *pgxpool.Pool, query string, args ...any) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow(context.Background(), query, args...).Scan(&n))

	return n
}

// loginCookies stores a session for userId the way the identity service
// does at login and returns the cookie that carries it.
func (a *TestApp) loginCookies(t testing.TB, userId int) []*http.Cookie {
	t.Helper()

	ctx, err := a.SessionManager.Load(context.Background(), "")
	require.NoError(t, err)

	a.SessionManager.Put(ctx, app.SessionKeyUserId.String(), userId)

	token, _, err := a.SessionManager.Commit(ctx)
	require.NoError(t, err)

	return []*http.Cookie{{Name: a.SessionManager.Cookie.Name, Value: token}}
}

func jsonBody(t testing.TB, v any) io.Reader {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return bytes.NewReader(b)
}

func signedWebhook(t testing.TB, eventId, eventType string, object map[string]any) (io.Reader, map[string]string) {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":          eventId,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    TestWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	return bytes.NewReader(signed.Payload), map[string]string{"Stripe-Signature": signed.Header}
}

func completedSessionObject(sessionId, paymentRef string, amount int64) map[string]any {
	return map[string]any{
		"id":             sessionId,
		"object":         "checkout.session",
		"status":         "complete",
		"payment_status": "paid",
		"amount_total":   amount,
		"currency":       "usd",
		"payment_intent": paymentRef,
	}
}

func refundedChargeObject(paymentRef string, refunded int64) map[string]any {
	return map[string]any{
		"id":              "ch_" + paymentRef,
		"object":          "charge",
		"amount_refunded": refunded,
		"currency":        "usd",
		"payment_intent":  paymentRef,
	}
}
