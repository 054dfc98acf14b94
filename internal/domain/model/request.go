// request.go — модель заявки на выдачу (таблица borrow_requests).
package model

import "time"

// Статусы заявки на выдачу.
const (
	// RequestStatusPending — заявка ожидает решения администратора.
	RequestStatusPending = "PENDING"
	// RequestStatusApproved — заявка одобрена (терминальный статус).
	RequestStatusApproved = "APPROVED"
	// RequestStatusDeclined — заявка отклонена (терминальный статус).
	RequestStatusDeclined = "DECLINED"
)

// ValidRequestStatus проверяет статус заявки.
func ValidRequestStatus(s string) bool {
	return s == RequestStatusPending || s == RequestStatusApproved || s == RequestStatusDeclined
}

// BorrowRequest — заявка читателя на выдачу книги.
// На одну книгу — не более одной PENDING заявки
// (частичный уникальный индекс borrow_requests_pending_uniq).
type BorrowRequest struct {
	// ID — UUID заявки
	ID string
	// BorrowerID — идентификатор читателя
	BorrowerID string
	// BookID — UUID записи каталога
	BookID string
	// Status — PENDING, APPROVED или DECLINED
	Status string
	// ReviewedByID — идентификатор администратора, принявшего решение (nullable)
	ReviewedByID *string
	// ReviewedAt — время решения (nullable)
	ReviewedAt *time.Time
	// BorrowerAcknowledgedAt — время, когда читатель отметил решение
	// просмотренным (nullable). Сбрасывается при уходе из PENDING.
	BorrowerAcknowledgedAt *time.Time
	// CreatedAt — время создания заявки
	CreatedAt time.Time
}

// Terminal сообщает, что заявка в терминальном статусе.
func (r *BorrowRequest) Terminal() bool {
	return r.Status == RequestStatusApproved || r.Status == RequestStatusDeclined
}
