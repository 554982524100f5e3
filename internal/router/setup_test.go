package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"fintrack/internal/config"
	"fintrack/internal/logger"
	"fintrack/internal/testutil"
	"fintrack/internal/validator"
)

const testAPIKey = "flow-test-api-key"

// testApp holds the full application stack for flow tests.
type testApp struct {
	DB        *gorm.DB
	Router    *gin.Engine
	Publisher *testutil.RecordingPublisher
}

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	validator.Register()

	cfg := config.Default()
	cfg.JWTSecret = "flow-test-secret"
	cfg.InternalAPIKey = testAPIKey
	config.Set(cfg)
}

// setupApp creates a full application stack backed by an isolated in-memory SQLite.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	db := testutil.SetupTestDB(t)
	pub := &testutil.RecordingPublisher{}
	return &testApp{DB: db, Router: New(db, pub, config.Get()), Publisher: pub}
}

// request makes an HTTP request to the test router and returns the recorder.
func (app *testApp) request(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

// mustRequest is request plus a status check; it returns the parsed body.
func (app *testApp) mustRequest(t *testing.T, method, path, body, token string, want int) map[string]interface{} {
	t.Helper()
	rec := app.request(method, path, body, token)
	if rec.Code != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, rec.Code, rec.Body.String())
	}
	return parseJSON(t, rec)
}

// parseJSON parses the response body into a map.
func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, rec.Body.String())
	}
	return result
}

// registerUser registers a new user and returns the access token, refresh token, and user ID.
func (app *testApp) registerUser(t *testing.T, email, password string) (accessToken, refreshToken, userID string) {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q,"first_name":"Test","last_name":"User"}`, email, password)
	result := app.mustRequest(t, "POST", "/api/v1/auth/register", body, "", http.StatusCreated)
	user := result["user"].(map[string]interface{})
	return result["access_token"].(string), result["refresh_token"].(string), user["id"].(string)
}

// loginUser logs in and returns the access and refresh tokens.
func (app *testApp) loginUser(t *testing.T, email, password string) (accessToken, refreshToken string) {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	result := app.mustRequest(t, "POST", "/api/v1/auth/login", body, "", http.StatusOK)
	return result["access_token"].(string), result["refresh_token"].(string)
}

// createCategory creates a category and returns its ID.
func (app *testApp) createCategory(t *testing.T, token, name, categoryType string) string {
	t.Helper()
	body := fmt.Sprintf(`{"name":%q,"type":%q}`, name, categoryType)
	result := app.mustRequest(t, "POST", "/api/v1/categories", body, token, http.StatusCreated)
	return result["category"].(map[string]interface{})["id"].(string)
}

// createExpense records an expense and returns the transaction ID.
func (app *testApp) createExpense(t *testing.T, token, categoryID, amount, date string) string {
	t.Helper()
	body := fmt.Sprintf(`{"category_id":%q,"type":"expense","amount":%q,"date":%q}`, categoryID, amount, date)
	result := app.mustRequest(t, "POST", "/api/v1/transactions", body, token, http.StatusCreated)
	return result["transaction"].(map[string]interface{})["id"].(string)
}

// createBudget creates a budget and returns its ID.
func (app *testApp) createBudget(t *testing.T, token, categoryID, limit, start, end string) string {
	t.Helper()
	body := fmt.Sprintf(`{"category_id":%q,"name":"Budget","limit_amount":%q,"start_date":%q,"end_date":%q}`,
		categoryID, limit, start, end)
	result := app.mustRequest(t, "POST", "/api/v1/budgets", body, token, http.StatusCreated)
	return result["budget"].(map[string]interface{})["id"].(string)
}

// budget fetches a budget as a map.
func (app *testApp) budget(t *testing.T, token, budgetID string) map[string]interface{} {
	t.Helper()
	result := app.mustRequest(t, "GET", "/api/v1/budgets/"+budgetID, "", token, http.StatusOK)
	return result["budget"].(map[string]interface{})
}

// notifications lists the user's notifications.
func (app *testApp) notifications(t *testing.T, token string) []interface{} {
	t.Helper()
	result := app.mustRequest(t, "GET", "/api/v1/notifications", "", token, http.StatusOK)
	return result["data"].([]interface{})
}

func newRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
