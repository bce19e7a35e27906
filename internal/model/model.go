// Package model содержит доменные сущности сервиса управления заказами.
package model

import "time"

// TimeLayout — формат, в котором сервис хранит все временные метки.
const TimeLayout = "2006-01-02 15:04:05"

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// Статусы оплаты. Поле хранится как свободная строка, но в статистике
// учитывается только точное значение Paid.
const (
	PaymentStatusPaid   = "Paid"
	PaymentStatusUnpaid = "Unpaid"
)

// UpdateEntry — запись журнала изменений заказа.
type UpdateEntry struct {
	Date    string `json:"date"`
	Message string `json:"message"`
}

// Order описывает заказ клиента.
type Order struct {
	ID               string        `json:"id"`
	CustomerName     string        `json:"customer_name"`
	CustomerEmail    string        `json:"customer_email"`
	CustomerPhone    string        `json:"customer_phone"`
	OrderDescription string        `json:"order_description"`
	OrderAmount      float64       `json:"order_amount"`
	OrderStatus      OrderStatus   `json:"order_status"`
	OrderLink        string        `json:"order_link"`
	PaymentMethod    string        `json:"payment_method"`
	PaymentAmount    float64       `json:"payment_amount"`
	PaymentStatus    string        `json:"payment_status"`
	PaymentLink      string        `json:"payment_link"`
	Notes            string        `json:"notes"`
	CreatedAt        string        `json:"created_at"`
	UpdatedAt        string        `json:"updated_at"`
	Updates          []UpdateEntry `json:"updates"`
}

// CreatedAtTime разбирает created_at заказа. Заказы с пустой или нечитаемой
// меткой считаются датированными 2000-01-01 и уходят в конец списка при
// сортировке по убыванию.
func (o Order) CreatedAtTime() time.Time {
	t, err := time.Parse(TimeLayout, o.CreatedAt)
	if err != nil {
		return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// OrderPatch — частичное обновление заказа: применяются только заполненные
// поля, nil-поля сохраняют прежние значения.
type OrderPatch struct {
	CustomerName     *string  `json:"customer_name"`
	CustomerEmail    *string  `json:"customer_email"`
	CustomerPhone    *string  `json:"customer_phone"`
	OrderDescription *string  `json:"order_description"`
	OrderAmount      *float64 `json:"order_amount"`
	OrderStatus      *string  `json:"order_status"`
	OrderLink        *string  `json:"order_link"`
	PaymentMethod    *string  `json:"payment_method"`
	PaymentAmount    *float64 `json:"payment_amount"`
	PaymentStatus    *string  `json:"payment_status"`
	PaymentLink      *string  `json:"payment_link"`
	Notes            *string  `json:"notes"`
	UpdateMessage    *string  `json:"update_message"`
}

// Admin — единственная административная учётная запись системы.
type Admin struct {
	PasswordHash   string `json:"password"`
	SessionToken   string `json:"session_token,omitempty"`
	SessionExpires string `json:"session_expires,omitempty"`
}

// Stats — агрегированная статистика по всем заказам. UnpaidAmount всегда
// вычисляется как TotalRevenue - PaidAmount, а не как сумма по неоплаченным
// заказам.
type Stats struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Processing   int     `json:"processing"`
	Completed    int     `json:"completed"`
	Cancelled    int     `json:"cancelled"`
	TotalRevenue float64 `json:"total_revenue"`
	PaidAmount   float64 `json:"paid_amount"`
	UnpaidAmount float64 `json:"unpaid_amount"`
}
