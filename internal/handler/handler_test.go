package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/orderdesk-system/internal/model"
	"github.com/mmeshcher/orderdesk-system/internal/repository"
	"github.com/mmeshcher/orderdesk-system/internal/session"
)

type stubOrders struct {
	order     *model.Order
	getErr    error
	list      []model.Order
	listErr   error
	created   *model.Order
	createErr error
	updated   *model.Order
	updateErr error
	deleteErr error
	stats     *model.Stats
	statsErr  error

	lastID    string
	lastPatch model.OrderPatch
}

func (s *stubOrders) GetByID(id string) (*model.Order, error) {
	s.lastID = id
	return s.order, s.getErr
}

func (s *stubOrders) List() ([]model.Order, error) {
	return s.list, s.listErr
}

func (s *stubOrders) Create(patch model.OrderPatch, id string) (*model.Order, error) {
	s.lastID = id
	s.lastPatch = patch
	return s.created, s.createErr
}

func (s *stubOrders) Update(id string, patch model.OrderPatch) (*model.Order, error) {
	s.lastID = id
	s.lastPatch = patch
	return s.updated, s.updateErr
}

func (s *stubOrders) Delete(id string) error {
	s.lastID = id
	return s.deleteErr
}

func (s *stubOrders) Stats() (*model.Stats, error) {
	return s.stats, s.statsErr
}

type stubSessions struct {
	token      string
	loginErr   error
	verifyOK   bool
	verifyErr  error
	requireErr error
	changeErr  error
	logoutErr  error

	gotAuthHeader  string
	gotBodyToken   string
	gotPassword    string
	gotVerifyToken string
}

func (s *stubSessions) Login(password string) (string, error) {
	s.gotPassword = password
	return s.token, s.loginErr
}

func (s *stubSessions) Verify(token string) (bool, error) {
	s.gotVerifyToken = token
	return s.verifyOK, s.verifyErr
}

func (s *stubSessions) RequireAuth(authHeader, bodyToken string) error {
	s.gotAuthHeader = authHeader
	s.gotBodyToken = bodyToken
	return s.requireErr
}

func (s *stubSessions) ChangePassword(current, newPassword string) error {
	return s.changeErr
}

func (s *stubSessions) Logout() error {
	return s.logoutErr
}

func newTestHandler(t *testing.T, orders OrderRepository, sessions SessionManager) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return NewHandler(orders, sessions, logger)
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doRequest(t *testing.T, h *Handler, method, target, body string, headers map[string]string) (int, testEnvelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()

	h.Dispatch(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	var env testEnvelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return res.StatusCode, env
}

func TestDispatch_UnknownAction(t *testing.T) {
	h := newTestHandler(t, &stubOrders{}, &stubSessions{})

	status, env := doRequest(t, h, http.MethodPost, "/api?action=explode", "", nil)

	if status != http.StatusOK {
		t.Fatalf("status = %d, failures must still be HTTP 200", status)
	}
	if env.Success || env.Message != "Invalid action" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDispatch_GetOrderIsPublic(t *testing.T) {
	sessions := &stubSessions{requireErr: session.ErrMissingToken}
	orders := &stubOrders{order: &model.Order{ID: "ORD1", CustomerName: "Ivan"}}
	h := newTestHandler(t, orders, sessions)

	_, env := doRequest(t, h, http.MethodGet, "/api?action=get_order&id=ORD1", "", nil)

	if !env.Success || env.Message != "Order found" {
		t.Fatalf("envelope = %+v", env)
	}
	if orders.lastID != "ORD1" {
		t.Fatalf("repository got id %q, want ORD1", orders.lastID)
	}
}

func TestDispatch_GetOrderNotFound(t *testing.T) {
	orders := &stubOrders{getErr: repository.ErrOrderNotFound}
	h := newTestHandler(t, orders, &stubSessions{})

	_, env := doRequest(t, h, http.MethodGet, "/api?action=get_order&id=ORD-missing", "", nil)

	if env.Success || env.Message != "Order not found" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDispatch_AuthErrors(t *testing.T) {
	tests := []struct {
		name       string
		requireErr error
		wantMsg    string
	}{
		{name: "missing token", requireErr: session.ErrMissingToken, wantMsg: "Authentication required"},
		{name: "invalid session", requireErr: session.ErrInvalidSession, wantMsg: "Invalid session"},
		{name: "expired session", requireErr: session.ErrSessionExpired, wantMsg: "Session expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubOrders{}, &stubSessions{requireErr: tt.requireErr})

			status, env := doRequest(t, h, http.MethodGet, "/api?action=get_orders", "", nil)

			if status != http.StatusOK {
				t.Fatalf("status = %d, want 200", status)
			}
			if env.Success || env.Message != tt.wantMsg {
				t.Fatalf("envelope = %+v, want message %q", env, tt.wantMsg)
			}
		})
	}
}

func TestDispatch_BodyTokenFallback(t *testing.T) {
	sessions := &stubSessions{}
	h := newTestHandler(t, &stubOrders{}, sessions)

	doRequest(t, h, http.MethodPost, "/api?action=get_orders", `{"token":"tok-from-body"}`, nil)

	if sessions.gotAuthHeader != "" {
		t.Fatalf("auth header = %q, want empty", sessions.gotAuthHeader)
	}
	if sessions.gotBodyToken != "tok-from-body" {
		t.Fatalf("body token = %q, want tok-from-body", sessions.gotBodyToken)
	}
}

func TestDispatch_Login(t *testing.T) {
	sessions := &stubSessions{token: "abc123"}
	h := newTestHandler(t, &stubOrders{}, sessions)

	_, env := doRequest(t, h, http.MethodPost, "/api?action=login", `{"password":"admin123"}`, nil)

	if !env.Success || env.Message != "Login successful" {
		t.Fatalf("envelope = %+v", env)
	}
	if sessions.gotPassword != "admin123" {
		t.Fatalf("login got password %q", sessions.gotPassword)
	}

	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["token"] != "abc123" {
		t.Fatalf("data = %v, want token abc123", data)
	}
}

func TestDispatch_LoginInvalidPassword(t *testing.T) {
	sessions := &stubSessions{loginErr: session.ErrInvalidCredentials}
	h := newTestHandler(t, &stubOrders{}, sessions)

	_, env := doRequest(t, h, http.MethodPost, "/api?action=login", `{"password":"wrong"}`, nil)

	if env.Success || env.Message != "Invalid password" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDispatch_MalformedBodyIsEmptyPayload(t *testing.T) {
	sessions := &stubSessions{loginErr: session.ErrInvalidCredentials}
	h := newTestHandler(t, &stubOrders{}, sessions)

	status, env := doRequest(t, h, http.MethodPost, "/api?action=login", `{broken json`, nil)

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if env.Success {
		t.Fatalf("envelope = %+v while login must fail on empty password", env)
	}
	if sessions.gotPassword != "" {
		t.Fatalf("password = %q, want empty for malformed body", sessions.gotPassword)
	}
}

func TestDispatch_ActionFromBody(t *testing.T) {
	sessions := &stubSessions{token: "abc123"}
	h := newTestHandler(t, &stubOrders{}, sessions)

	_, env := doRequest(t, h, http.MethodPost, "/api", `{"action":"login","password":"admin123"}`, nil)

	if !env.Success || env.Message != "Login successful" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDispatch_CreateOrder(t *testing.T) {
	orders := &stubOrders{created: &model.Order{ID: "ORD00011234"}}
	h := newTestHandler(t, orders, &stubSessions{})

	body := `{"customer_name":"Ivan","order_amount":150.5}`
	_, env := doRequest(t, h, http.MethodPost, "/api?action=create_order", body, map[string]string{
		"Authorization": "Bearer tok",
	})

	if !env.Success || env.Message != "Order created successfully" {
		t.Fatalf("envelope = %+v", env)
	}
	if orders.lastPatch.CustomerName == nil || *orders.lastPatch.CustomerName != "Ivan" {
		t.Fatalf("patch = %+v", orders.lastPatch)
	}
	if orders.lastPatch.OrderAmount == nil || *orders.lastPatch.OrderAmount != 150.5 {
		t.Fatalf("patch amount = %+v", orders.lastPatch.OrderAmount)
	}
}

func TestDispatch_CreateOrderDuplicateID(t *testing.T) {
	orders := &stubOrders{createErr: repository.ErrOrderExists}
	h := newTestHandler(t, orders, &stubSessions{})

	_, env := doRequest(t, h, http.MethodPost, "/api?action=create_order", `{"id":"ORD-dup"}`, nil)

	if env.Success || env.Message != "Order ID already exists" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDispatch_UpdateOrder(t *testing.T) {
	orders := &stubOrders{updated: &model.Order{ID: "ORD1", Notes: "x"}}
	h := newTestHandler(t, orders, &stubSessions{})

	_, env := doRequest(t, h, http.MethodPost, "/api?action=update_order", `{"id":"ORD1","notes":"x"}`, nil)

	if !env.Success || env.Message != "Order updated successfully" {
		t.Fatalf("envelope = %+v", env)
	}
	if orders.lastID != "ORD1" {
		t.Fatalf("update got id %q", orders.lastID)
	}
	if orders.lastPatch.Notes == nil || *orders.lastPatch.Notes != "x" {
		t.Fatalf("patch = %+v", orders.lastPatch)
	}
	if orders.lastPatch.CustomerName != nil {
		t.Fatalf("absent fields must stay nil in the patch")
	}
}

func TestDispatch_UpdateOrderNotFound(t *testing.T) {
	orders := &stubOrders{updateErr: repository.ErrOrderNotFound}
	h := newTestHandler(t, orders, &stubSessions{})

	_, env := doRequest(t, h, http.MethodPost, "/api?action=update_order", `{"id":"ORD-missing"}`, nil)

	if env.Success || env.Message != "Order not found" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDispatch_DeleteOrder(t *testing.T) {
	orders := &stubOrders{}
	h := newTestHandler(t, orders, &stubSessions{})

	_, env := doRequest(t, h, http.MethodDelete, "/api?action=delete_order", `{"id":"ORD1"}`, nil)

	if !env.Success || env.Message != "Order deleted successfully" {
		t.Fatalf("envelope = %+v", env)
	}
	if orders.lastID != "ORD1" {
		t.Fatalf("delete got id %q", orders.lastID)
	}
}

func TestDispatch_GetOrders(t *testing.T) {
	orders := &stubOrders{list: []model.Order{{ID: "ORD2"}, {ID: "ORD1"}}}
	h := newTestHandler(t, orders, &stubSessions{})

	_, env := doRequest(t, h, http.MethodGet, "/api?action=get_orders", "", map[string]string{
		"Authorization": "Bearer tok",
	})

	if !env.Success || env.Message != "Orders retrieved" {
		t.Fatalf("envelope = %+v", env)
	}

	var list []model.Order
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(list) != 2 || list[0].ID != "ORD2" {
		t.Fatalf("data = %+v", list)
	}
}

func TestDispatch_GetStats(t *testing.T) {
	orders := &stubOrders{stats: &model.Stats{Total: 2, TotalRevenue: 150, PaidAmount: 50, UnpaidAmount: 100}}
	h := newTestHandler(t, orders, &stubSessions{})

	_, env := doRequest(t, h, http.MethodGet, "/api?action=get_stats", "", nil)

	if !env.Success || env.Message != "Stats retrieved" {
		t.Fatalf("envelope = %+v", env)
	}

	var stats model.Stats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if stats.UnpaidAmount != 100 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDispatch_VerifySession(t *testing.T) {
	tests := []struct {
		name     string
		verifyOK bool
		wantMsg  string
		wantOK   bool
	}{
		{name: "valid", verifyOK: true, wantMsg: "Session valid", wantOK: true},
		{name: "invalid", verifyOK: false, wantMsg: "Session invalid", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubOrders{}, &stubSessions{verifyOK: tt.verifyOK})

			_, env := doRequest(t, h, http.MethodPost, "/api?action=verify_session", `{"token":"tok"}`, nil)

			if env.Success != tt.wantOK || env.Message != tt.wantMsg {
				t.Fatalf("envelope = %+v, want %q", env, tt.wantMsg)
			}
		})
	}
}

func TestDispatch_VerifySessionTokenSources(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		body       string
		wantToken  string
	}{
		{name: "bearer header stripped", authHeader: "Bearer tok", wantToken: "tok"},
		{name: "body token passed raw", body: `{"token":"tok"}`, wantToken: "tok"},
		{name: "bearer form in body stays raw", body: `{"token":"Bearer tok"}`, wantToken: "Bearer tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &stubSessions{verifyOK: true}
			h := newTestHandler(t, &stubOrders{}, sessions)

			var headers map[string]string
			if tt.authHeader != "" {
				headers = map[string]string{"Authorization": tt.authHeader}
			}
			doRequest(t, h, http.MethodPost, "/api?action=verify_session", tt.body, headers)

			if sessions.gotVerifyToken != tt.wantToken {
				t.Fatalf("verify got token %q, want %q", sessions.gotVerifyToken, tt.wantToken)
			}
		})
	}
}

func TestSetupRouter_BareOptionsOK(t *testing.T) {
	h := newTestHandler(t, &stubOrders{}, &stubSessions{})
	r := h.SetupRouter()

	// OPTIONS без Access-Control-Request-Method — не preflight, но ответ
	// всё равно пустой 200.
	req := httptest.NewRequest(http.MethodOptions, "/api", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for bare OPTIONS", rec.Code)
	}
}

func TestDispatch_ChangePassword(t *testing.T) {
	tests := []struct {
		name      string
		changeErr error
		wantMsg   string
		wantOK    bool
	}{
		{name: "success", wantMsg: "Password changed successfully. Please login again.", wantOK: true},
		{name: "wrong current", changeErr: session.ErrInvalidCredentials, wantMsg: "Current password is incorrect"},
		{name: "weak password", changeErr: session.ErrWeakPassword, wantMsg: "New password must be at least 6 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubOrders{}, &stubSessions{changeErr: tt.changeErr})

			body := `{"current_password":"admin123","new_password":"newsecret"}`
			_, env := doRequest(t, h, http.MethodPost, "/api?action=change_password", body, nil)

			if env.Success != tt.wantOK || env.Message != tt.wantMsg {
				t.Fatalf("envelope = %+v, want %q", env, tt.wantMsg)
			}
		})
	}
}

func TestDispatch_Logout(t *testing.T) {
	h := newTestHandler(t, &stubOrders{}, &stubSessions{})

	_, env := doRequest(t, h, http.MethodPost, "/api?action=logout", "", nil)

	if !env.Success || env.Message != "Logged out successfully" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDispatch_StorageErrorStaysHTTP200(t *testing.T) {
	orders := &stubOrders{listErr: errGeneric("boom")}
	h := newTestHandler(t, orders, &stubSessions{})

	status, env := doRequest(t, h, http.MethodGet, "/api?action=get_orders", "", nil)

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if env.Success || env.Message != "Internal server error" {
		t.Fatalf("envelope = %+v", env)
	}
	if strings.Contains(env.Message, "boom") {
		t.Fatalf("internal error details leaked: %q", env.Message)
	}
}

type errGeneric string

func (e errGeneric) Error() string { return string(e) }
