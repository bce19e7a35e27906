// Package repository содержит операции над коллекцией заказов.
package repository

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/mmeshcher/orderdesk-system/internal/model"
	"github.com/mmeshcher/orderdesk-system/internal/storage"
)

// ErrOrderNotFound возвращается, когда заказ с указанным идентификатором
// отсутствует в коллекции.
var ErrOrderNotFound = errors.New("order not found")

// ErrOrderExists возвращается при попытке создать заказ с уже занятым
// идентификатором.
var ErrOrderExists = errors.New("order id already exists")

// Orders реализует CRUD-операции и статистику по заказам поверх файлового
// хранилища.
type Orders struct {
	store *storage.Store
	now   func() time.Time
}

// NewOrders создаёт репозиторий заказов.
func NewOrders(store *storage.Store) *Orders {
	return &Orders{
		store: store,
		now:   time.Now,
	}
}

// GetByID возвращает первый заказ с указанным идентификатором.
func (r *Orders) GetByID(id string) (*model.Order, error) {
	orders, err := r.store.LoadOrders()
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.ID == id {
			return &o, nil
		}
	}
	return nil, ErrOrderNotFound
}

// List возвращает все заказы, отсортированные по created_at по убыванию.
// Заказы с нечитаемой меткой времени уходят в конец списка.
func (r *Orders) List() ([]model.Order, error) {
	orders, err := r.store.LoadOrders()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAtTime().After(orders[j].CreatedAtTime())
	})
	return orders, nil
}

// Create добавляет новый заказ, заполняя отсутствующие поля значениями по
// умолчанию. Переданный занятый идентификатор отклоняется; сгенерированный
// перегенерируется, пока не станет уникальным.
func (r *Orders) Create(patch model.OrderPatch, id string) (*model.Order, error) {
	now := r.now().Format(model.TimeLayout)

	order := model.Order{
		ID:            id,
		OrderStatus:   model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
		Updates:       []model.UpdateEntry{{Date: now, Message: "Order created"}},
	}
	applyPatch(&order, patch)

	err := r.store.UpdateOrders(func(orders []model.Order) ([]model.Order, error) {
		existing := make(map[string]struct{}, len(orders))
		for _, o := range orders {
			existing[o.ID] = struct{}{}
		}

		if order.ID == "" {
			order.ID = r.generateID()
			for {
				if _, ok := existing[order.ID]; !ok {
					break
				}
				order.ID = r.generateID()
			}
		} else if _, ok := existing[order.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrOrderExists, order.ID)
		}

		return append(orders, order), nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Update применяет частичное обновление к первому заказу с указанным
// идентификатором: nil-поля сохраняют прежние значения, непустой
// update_message добавляет запись в журнал изменений.
func (r *Orders) Update(id string, patch model.OrderPatch) (*model.Order, error) {
	var updated model.Order

	err := r.store.UpdateOrders(func(orders []model.Order) ([]model.Order, error) {
		for i := range orders {
			if orders[i].ID != id {
				continue
			}

			now := r.now().Format(model.TimeLayout)
			applyPatch(&orders[i], patch)
			orders[i].UpdatedAt = now

			if patch.UpdateMessage != nil && *patch.UpdateMessage != "" {
				orders[i].Updates = append(orders[i].Updates, model.UpdateEntry{
					Date:    now,
					Message: *patch.UpdateMessage,
				})
			}

			updated = orders[i]
			return orders, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete удаляет все заказы с указанным идентификатором. Удаление
// несуществующего заказа не является ошибкой.
func (r *Orders) Delete(id string) error {
	return r.store.UpdateOrders(func(orders []model.Order) ([]model.Order, error) {
		kept := orders[:0]
		for _, o := range orders {
			if o.ID != id {
				kept = append(kept, o)
			}
		}
		return kept, nil
	})
}

// Stats считает агрегаты по всей коллекции. Пустой статус заказа попадает в
// корзину Pending. UnpaidAmount — это разность TotalRevenue и PaidAmount,
// не сумма по неоплаченным заказам.
func (r *Orders) Stats() (*model.Stats, error) {
	orders, err := r.store.LoadOrders()
	if err != nil {
		return nil, err
	}

	stats := &model.Stats{Total: len(orders)}
	for _, o := range orders {
		switch o.OrderStatus {
		case model.OrderStatusPending, "":
			stats.Pending++
		case model.OrderStatusProcessing:
			stats.Processing++
		case model.OrderStatusCompleted:
			stats.Completed++
		case model.OrderStatusCancelled:
			stats.Cancelled++
		}

		stats.TotalRevenue += o.OrderAmount
		if o.PaymentStatus == model.PaymentStatusPaid {
			stats.PaidAmount += o.PaymentAmount
		}
	}
	stats.UnpaidAmount = stats.TotalRevenue - stats.PaidAmount

	return stats, nil
}

// generateID собирает идентификатор вида ORD + 4 случайные цифры + последние
// 4 цифры unix-времени.
func (r *Orders) generateID() string {
	return fmt.Sprintf("ORD%04d%d", 1000+rand.Intn(9000), r.now().Unix()%10000)
}

func applyPatch(o *model.Order, p model.OrderPatch) {
	if p.CustomerName != nil {
		o.CustomerName = *p.CustomerName
	}
	if p.CustomerEmail != nil {
		o.CustomerEmail = *p.CustomerEmail
	}
	if p.CustomerPhone != nil {
		o.CustomerPhone = *p.CustomerPhone
	}
	if p.OrderDescription != nil {
		o.OrderDescription = *p.OrderDescription
	}
	if p.OrderAmount != nil {
		o.OrderAmount = *p.OrderAmount
	}
	if p.OrderStatus != nil {
		o.OrderStatus = model.OrderStatus(*p.OrderStatus)
	}
	if p.OrderLink != nil {
		o.OrderLink = *p.OrderLink
	}
	if p.PaymentMethod != nil {
		o.PaymentMethod = *p.PaymentMethod
	}
	if p.PaymentAmount != nil {
		o.PaymentAmount = *p.PaymentAmount
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentLink != nil {
		o.PaymentLink = *p.PaymentLink
	}
	if p.Notes != nil {
		o.Notes = *p.Notes
	}
}
