// Package storage реализует хранение данных в виде целостных JSON-документов.
//
// Каждая коллекция — один файл, который при любой мутации перечитывается и
// перезаписывается целиком. Частичных записей нет.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/orderdesk-system/internal/model"
)

const (
	ordersFile = "orders.json"
	adminFile  = "admin.json"
)

// ErrCorruptDocument возвращается, когда файл документа не читается как JSON.
// Ошибка фатальна только для текущего запроса, не для процесса.
var ErrCorruptDocument = errors.New("corrupt document")

// Store — файловое хранилище двух документов: коллекции заказов и
// административной записи. Цикл load-mutate-save для каждого документа
// защищён своим мьютексом.
type Store struct {
	dir string

	ordersMu sync.Mutex
	adminMu  sync.Mutex
}

// New создаёт хранилище в указанном каталоге, создавая каталог при
// необходимости.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Bootstrap инициализирует отсутствующие документы: пустую коллекцию заказов
// и административную запись с bcrypt-хешем пароля по умолчанию. Вызывается
// один раз при старте процесса, до обработки запросов.
func (s *Store) Bootstrap(defaultPassword string) error {
	s.ordersMu.Lock()
	if _, err := os.Stat(s.path(ordersFile)); errors.Is(err, os.ErrNotExist) {
		if err := s.writeDoc(ordersFile, []model.Order{}); err != nil {
			s.ordersMu.Unlock()
			return fmt.Errorf("bootstrap orders: %w", err)
		}
	}
	s.ordersMu.Unlock()

	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	if _, err := os.Stat(s.path(adminFile)); errors.Is(err, os.ErrNotExist) {
		hash, err := bcrypt.GenerateFromPassword([]byte(defaultPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash default password: %w", err)
		}
		if err := s.writeDoc(adminFile, model.Admin{PasswordHash: string(hash)}); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}
	return nil
}

// LoadOrders возвращает полную коллекцию заказов.
func (s *Store) LoadOrders() ([]model.Order, error) {
	var orders []model.Order
	if err := s.readDoc(ordersFile, &orders); err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

// SaveOrders заменяет коллекцию заказов целиком.
func (s *Store) SaveOrders(orders []model.Order) error {
	return s.writeDoc(ordersFile, orders)
}

// LoadAdmin возвращает административную запись.
func (s *Store) LoadAdmin() (model.Admin, error) {
	var admin model.Admin
	if err := s.readDoc(adminFile, &admin); err != nil {
		return model.Admin{}, err
	}
	return admin, nil
}

// SaveAdmin заменяет административную запись целиком.
func (s *Store) SaveAdmin(admin model.Admin) error {
	return s.writeDoc(adminFile, admin)
}

// UpdateOrders выполняет цикл load-mutate-save для коллекции заказов под
// мьютексом документа. Если fn возвращает ошибку, документ не перезаписывается.
func (s *Store) UpdateOrders(fn func(orders []model.Order) ([]model.Order, error)) error {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()

	orders, err := s.LoadOrders()
	if err != nil {
		return err
	}
	updated, err := fn(orders)
	if err != nil {
		return err
	}
	return s.SaveOrders(updated)
}

// UpdateAdmin выполняет цикл load-mutate-save для административной записи под
// мьютексом документа.
func (s *Store) UpdateAdmin(fn func(admin model.Admin) (model.Admin, error)) error {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	admin, err := s.LoadAdmin()
	if err != nil {
		return err
	}
	updated, err := fn(admin)
	if err != nil {
		return err
	}
	return s.SaveAdmin(updated)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) readDoc(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Первое обращение до Bootstrap: документ считается пустым.
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrCorruptDocument, name, err)
	}
	return nil
}

// writeDoc записывает документ через временный файл и rename, чтобы сбой
// процесса не оставил документ записанным наполовину.
func (s *Store) writeDoc(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
