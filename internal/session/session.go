// Package session управляет сессией единственного администратора системы.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/orderdesk-system/internal/model"
	"github.com/mmeshcher/orderdesk-system/internal/storage"
)

// TokenTTL — срок жизни сессии с момента входа.
const TokenTTL = 24 * time.Hour

// MinPasswordLen — минимальная длина нового пароля администратора.
const MinPasswordLen = 6

// ErrInvalidCredentials возвращается при неверном пароле на входе или смене
// пароля.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrWeakPassword возвращается, когда новый пароль короче MinPasswordLen.
var ErrWeakPassword = errors.New("password too short")

// ErrUnauthenticated — общий родитель всех ошибок аутентификации запроса.
var ErrUnauthenticated = errors.New("unauthenticated")

// Конкретные причины отказа в аутентификации. Все заворачивают
// ErrUnauthenticated, поэтому проверка errors.Is по родителю тоже работает.
var (
	ErrMissingToken   = fmt.Errorf("%w: missing token", ErrUnauthenticated)
	ErrInvalidSession = fmt.Errorf("%w: invalid session", ErrUnauthenticated)
	ErrSessionExpired = fmt.Errorf("%w: session expired", ErrUnauthenticated)
)

// Manager выдаёт, проверяет и отзывает токен сессии администратора.
// Состояние сессии целиком живёт в административном документе хранилища;
// Manager ничего не кеширует.
type Manager struct {
	store *storage.Store
	now   func() time.Time
}

// NewManager создаёт менеджер сессии поверх хранилища.
func NewManager(store *storage.Store) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
	}
}

// Login сверяет пароль с хешем администратора и при успехе выдаёт новый
// случайный токен со сроком действия TokenTTL.
func (m *Manager) Login(password string) (string, error) {
	var token string

	err := m.store.UpdateAdmin(func(admin model.Admin) (model.Admin, error) {
		if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
			return model.Admin{}, ErrInvalidCredentials
		}

		t, err := generateToken()
		if err != nil {
			return model.Admin{}, err
		}
		token = t

		admin.SessionToken = token
		// Формат без зоны: метка пишется в UTC, чтобы time.Parse при
		// проверке восстановил тот же момент на любых часах.
		admin.SessionExpires = m.now().UTC().Add(TokenTTL).Format(model.TimeLayout)
		return admin, nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Verify сообщает, действительна ли сессия: токен присутствует, совпадает
// полностью и срок действия ещё не наступил. Истечение срока выводится из
// часов при каждом вызове и нигде не сохраняется.
func (m *Manager) Verify(token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	admin, err := m.store.LoadAdmin()
	if err != nil {
		return false, err
	}
	if admin.SessionToken == "" || admin.SessionToken != token {
		return false, nil
	}

	expires, err := time.Parse(model.TimeLayout, admin.SessionExpires)
	if err != nil {
		return false, nil
	}
	return m.now().Before(expires), nil
}

// RequireAuth извлекает bearer-токен из заголовка Authorization или, если
// заголовок пуст, из поля token тела запроса, и проверяет сессию. Причина
// отказа различается: отсутствующий токен, чужой токен, истёкший срок.
func (m *Manager) RequireAuth(authHeader, bodyToken string) error {
	token := authHeader
	if token == "" {
		token = bodyToken
	}
	token = strings.TrimPrefix(token, "Bearer ")

	if token == "" {
		return ErrMissingToken
	}

	admin, err := m.store.LoadAdmin()
	if err != nil {
		return err
	}
	if admin.SessionToken == "" || admin.SessionToken != token {
		return ErrInvalidSession
	}

	expires, err := time.Parse(model.TimeLayout, admin.SessionExpires)
	if err != nil || !m.now().Before(expires) {
		return ErrSessionExpired
	}
	return nil
}

// ChangePassword меняет пароль администратора и отзывает активную сессию,
// вынуждая войти заново.
func (m *Manager) ChangePassword(current, newPassword string) error {
	return m.store.UpdateAdmin(func(admin model.Admin) (model.Admin, error) {
		if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(current)); err != nil {
			return model.Admin{}, ErrInvalidCredentials
		}
		if len(newPassword) < MinPasswordLen {
			return model.Admin{}, ErrWeakPassword
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return model.Admin{}, fmt.Errorf("hash password: %w", err)
		}

		admin.PasswordHash = string(hash)
		admin.SessionToken = ""
		admin.SessionExpires = ""
		return admin, nil
	})
}

// Logout безусловно снимает активную сессию. Повторный вызов не ошибка.
func (m *Manager) Logout() error {
	return m.store.UpdateAdmin(func(admin model.Admin) (model.Admin, error) {
		admin.SessionToken = ""
		admin.SessionExpires = ""
		return admin, nil
	})
}

// generateToken возвращает 256 бит криптографической случайности в hex.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
