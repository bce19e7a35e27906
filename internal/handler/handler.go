// Package handler содержит HTTP-слой сервиса управления заказами: разбор
// запроса, диспетчеризацию действий и единый конверт ответа.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/orderdesk-system/internal/model"
	"github.com/mmeshcher/orderdesk-system/internal/repository"
	"github.com/mmeshcher/orderdesk-system/internal/session"
)

// OrderRepository определяет контракт операций над заказами, используемый
// обработчиками.
type OrderRepository interface {
	GetByID(id string) (*model.Order, error)
	List() ([]model.Order, error)
	Create(patch model.OrderPatch, id string) (*model.Order, error)
	Update(id string, patch model.OrderPatch) (*model.Order, error)
	Delete(id string) error
	Stats() (*model.Stats, error)
}

// SessionManager определяет контракт работы с сессией администратора.
type SessionManager interface {
	Login(password string) (string, error)
	Verify(token string) (bool, error)
	RequireAuth(authHeader, bodyToken string) error
	ChangePassword(current, newPassword string) error
	Logout() error
}

// Handler реализует HTTP-обработчики API сервиса управления заказами.
type Handler struct {
	orders   OrderRepository
	sessions SessionManager
	logger   *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(orders OrderRepository, sessions SessionManager, logger *zap.Logger) *Handler {
	return &Handler{
		orders:   orders,
		sessions: sessions,
		logger:   logger,
	}
}

// envelope — единый формат ответа API. Любая ошибка кодируется в конверте,
// транспортный статус всегда 200.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// apiRequest — объединённый payload всех действий. Неразобранное тело
// эквивалентно пустому payload: недостающие поля отсекаются проверками
// самих действий.
type apiRequest struct {
	Action          string `json:"action"`
	Token           string `json:"token"`
	ID              string `json:"id"`
	Password        string `json:"password"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`

	model.OrderPatch
}

// Действия, требующие действительной сессии администратора.
var protectedActions = map[string]struct{}{
	"get_stats":       {},
	"get_orders":      {},
	"create_order":    {},
	"update_order":    {},
	"delete_order":    {},
	"change_password": {},
	"logout":          {},
}

// Dispatch разбирает действие из строки запроса или тела, проверяет
// аутентификацию для защищённых действий и вызывает соответствующую
// операцию.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req apiRequest
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		// Нечитаемый JSON приравнивается к пустому payload.
		if err := json.Unmarshal(body, &req); err != nil {
			req = apiRequest{}
		}
	}
	defer r.Body.Close()

	action := r.URL.Query().Get("action")
	if action == "" {
		action = req.Action
	}

	if _, protected := protectedActions[action]; protected {
		if err := h.sessions.RequireAuth(r.Header.Get("Authorization"), req.Token); err != nil {
			h.writeAuthError(w, err)
			return
		}
	}

	switch action {
	case "get_order":
		h.getOrder(w, r, req)
	case "get_stats":
		h.getStats(w)
	case "get_orders":
		h.getOrders(w)
	case "create_order":
		h.createOrder(w, req)
	case "update_order":
		h.updateOrder(w, req)
	case "delete_order":
		h.deleteOrder(w, req)
	case "login":
		h.login(w, req)
	case "verify_session":
		h.verifySession(w, r, req)
	case "change_password":
		h.changePassword(w, req)
	case "logout":
		h.logout(w)
	default:
		h.fail(w, "Invalid action")
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, req apiRequest) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = req.ID
	}

	order, err := h.orders.GetByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			h.fail(w, "Order not found")
			return
		}
		h.serverError(w, "get order", err)
		return
	}
	h.ok(w, "Order found", order)
}

func (h *Handler) getStats(w http.ResponseWriter) {
	stats, err := h.orders.Stats()
	if err != nil {
		h.serverError(w, "get stats", err)
		return
	}
	h.ok(w, "Stats retrieved", stats)
}

func (h *Handler) getOrders(w http.ResponseWriter) {
	orders, err := h.orders.List()
	if err != nil {
		h.serverError(w, "get orders", err)
		return
	}
	h.ok(w, "Orders retrieved", orders)
}

func (h *Handler) createOrder(w http.ResponseWriter, req apiRequest) {
	order, err := h.orders.Create(req.OrderPatch, req.ID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			h.fail(w, "Order ID already exists")
			return
		}
		h.serverError(w, "create order", err)
		return
	}
	h.ok(w, "Order created successfully", order)
}

func (h *Handler) updateOrder(w http.ResponseWriter, req apiRequest) {
	order, err := h.orders.Update(req.ID, req.OrderPatch)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			h.fail(w, "Order not found")
			return
		}
		h.serverError(w, "update order", err)
		return
	}
	h.ok(w, "Order updated successfully", order)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, req apiRequest) {
	if err := h.orders.Delete(req.ID); err != nil {
		h.serverError(w, "delete order", err)
		return
	}
	h.ok(w, "Order deleted successfully", nil)
}

func (h *Handler) login(w http.ResponseWriter, req apiRequest) {
	token, err := h.sessions.Login(req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.fail(w, "Invalid password")
			return
		}
		h.serverError(w, "login", err)
		return
	}
	h.ok(w, "Login successful", map[string]string{"token": token})
}

func (h *Handler) verifySession(w http.ResponseWriter, r *http.Request, req apiRequest) {
	// Bearer-форму несёт только заголовок; токен из тела берётся как есть.
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = req.Token
	}

	ok, err := h.sessions.Verify(token)
	if err != nil {
		h.serverError(w, "verify session", err)
		return
	}
	if !ok {
		h.fail(w, "Session invalid")
		return
	}
	h.ok(w, "Session valid", nil)
}

func (h *Handler) changePassword(w http.ResponseWriter, req apiRequest) {
	err := h.sessions.ChangePassword(req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidCredentials):
			h.fail(w, "Current password is incorrect")
		case errors.Is(err, session.ErrWeakPassword):
			h.fail(w, "New password must be at least 6 characters")
		default:
			h.serverError(w, "change password", err)
		}
		return
	}
	h.ok(w, "Password changed successfully. Please login again.", nil)
}

func (h *Handler) logout(w http.ResponseWriter) {
	if err := h.sessions.Logout(); err != nil {
		h.serverError(w, "logout", err)
		return
	}
	h.ok(w, "Logged out successfully", nil)
}

func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrMissingToken):
		h.fail(w, "Authentication required")
	case errors.Is(err, session.ErrSessionExpired):
		h.fail(w, "Session expired")
	case errors.Is(err, session.ErrUnauthenticated):
		h.fail(w, "Invalid session")
	default:
		h.serverError(w, "authenticate", err)
	}
}

func (h *Handler) ok(w http.ResponseWriter, message string, data any) {
	h.writeEnvelope(w, envelope{Success: true, Message: message, Data: data})
}

func (h *Handler) fail(w http.ResponseWriter, message string) {
	h.writeEnvelope(w, envelope{Success: false, Message: message})
}

// serverError скрывает внутреннюю ошибку за общим сообщением; подробности
// остаются в логе. Транспортный статус по контракту API всё равно 200.
func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	h.fail(w, "Internal server error")
}

func (h *Handler) writeEnvelope(w http.ResponseWriter, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.logger.Error("write response", zap.Error(err))
	}
}
