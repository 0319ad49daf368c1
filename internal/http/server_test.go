package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MagetoJ/EduKE/internal/config"
	"github.com/MagetoJ/EduKE/internal/db"
	"github.com/MagetoJ/EduKE/internal/repository"
)

func openTestDB(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("EDUKE_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("EDUKE_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	return pool
}

func testConfig() config.Config {
	return config.Config{
		HTTPAddr:       ":0",
		JWTSecret:      "test-secret",
		JWTIssuer:      "test-issuer",
		AccessTokenTTL: 15 * time.Minute,
		ImpersonateTTL: time.Hour,
	}
}

func TestRegisterLoginAndStaffPermissions(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	store := repository.NewStore(pool)
	server := NewServer(testConfig(), store, nil)
	app := httptest.NewServer(server.Router())
	defer app.Close()

	stamp := time.Now().Format("150405.000")
	adminUser := "founder." + stamp
	staffUser := "clerk." + stamp

	// Register a school; the founder becomes its admin.
	resp := doReq(t, http.MethodPost, app.URL+"/auth/register-school", "", map[string]interface{}{
		"school_name":     "Test School " + stamp,
		"admin_full_name": "Test Founder",
		"username":        adminUser,
		"email":           adminUser + "@example.local",
		"password":        "dev-password",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	adminToken := login(t, app.URL, adminUser, "dev-password")

	// Admin bypass: manage_users works without a table entry.
	resp = doReq(t, http.MethodPost, app.URL+"/users", adminToken, map[string]interface{}{
		"username":  staffUser,
		"email":     staffUser + "@example.local",
		"full_name": "Test Clerk",
		"password":  "dev-password",
		"role":      "staff",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	staffToken := login(t, app.URL, staffUser, "dev-password")

	// Staff holds manage_inventory.
	resp = doReq(t, http.MethodGet, app.URL+"/assets", staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// Staff lacks manage_users.
	resp = doReq(t, http.MethodPost, app.URL+"/users", staffToken, map[string]interface{}{
		"username":  "x." + stamp,
		"email":     "x." + stamp + "@example.local",
		"full_name": "X",
		"password":  "dev-password",
		"role":      "teacher",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// Staff lacks view_dashboard as well.
	resp = doReq(t, http.MethodGet, app.URL+"/dashboard", staffToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// No token at all.
	resp = doReq(t, http.MethodGet, app.URL+"/students", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// The guard context round-trips through /auth/me.
	resp = doReq(t, http.MethodGet, app.URL+"/auth/me", staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var me map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if me["role"] != "staff" {
		t.Fatalf("expected staff role in context, got %v", me["role"])
	}
}

func TestStudentAndFeeFlow(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	store := repository.NewStore(pool)
	server := NewServer(testConfig(), store, nil)
	app := httptest.NewServer(server.Router())
	defer app.Close()

	stamp := time.Now().Format("150405.000")
	adminUser := "bursar." + stamp

	resp := doReq(t, http.MethodPost, app.URL+"/auth/register-school", "", map[string]interface{}{
		"school_name":     "Fee School " + stamp,
		"admin_full_name": "Test Bursar",
		"username":        adminUser,
		"email":           adminUser + "@example.local",
		"password":        "dev-password",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	adminToken := login(t, app.URL, adminUser, "dev-password")

	resp = doReq(t, http.MethodPost, app.URL+"/students", adminToken, map[string]interface{}{
		"first_name": "Jane",
		"last_name":  "Doe",
		"grade":      "Grade 4",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var student struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&student); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/fees/invoices", adminToken, map[string]interface{}{
		"student_id":   student.ID,
		"title":        "Term 1 Tuition",
		"total_amount": 1000.0,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var invoice struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/fees/payments", adminToken, map[string]interface{}{
		"student_id": student.ID,
		"invoice_id": invoice.ID,
		"amount":     1000.0,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
}

// A payment may only name a student inside the caller's own school;
// anything else is indistinguishable from a missing student.
func TestRecordPaymentForeignStudentRejected(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	store := repository.NewStore(pool)
	server := NewServer(testConfig(), store, nil)
	app := httptest.NewServer(server.Router())
	defer app.Close()

	stamp := time.Now().Format("150405.000")

	// Two schools; a student enrolled only in the second.
	for _, name := range []string{"alpha", "beta"} {
		resp := doReq(t, http.MethodPost, app.URL+"/auth/register-school", "", map[string]interface{}{
			"school_name":     name + " School " + stamp,
			"admin_full_name": "Admin " + name,
			"username":        name + "." + stamp,
			"email":           name + "." + stamp + "@example.local",
			"password":        "dev-password",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("register %s: expected 201, got %d", name, resp.StatusCode)
		}
	}
	alphaToken := login(t, app.URL, "alpha."+stamp, "dev-password")
	betaToken := login(t, app.URL, "beta."+stamp, "dev-password")

	resp := doReq(t, http.MethodPost, app.URL+"/students", betaToken, map[string]interface{}{
		"first_name": "Omar",
		"last_name":  "Njoroge",
		"grade":      "Grade 2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var betaStudent struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&betaStudent); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	// Alpha's admin cannot record a payment against beta's student.
	resp = doReq(t, http.MethodPost, app.URL+"/fees/payments", alphaToken, map[string]interface{}{
		"student_id": betaStudent.ID,
		"amount":     250.0,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// A made-up student id fails the same way.
	resp = doReq(t, http.MethodPost, app.URL+"/fees/payments", alphaToken, map[string]interface{}{
		"student_id": "00000000-0000-0000-0000-000000000000",
		"amount":     250.0,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func login(t *testing.T, baseURL, username, password string) string {
	t.Helper()
	resp := doReq(t, http.MethodPost, baseURL+"/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with %d", resp.StatusCode)
	}
	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return body.AccessToken
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}
