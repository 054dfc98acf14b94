// loan.go — модель выдачи книги (таблица loans).
package model

import "time"

// Loan — выдача книги читателю.
// Активная выдача: ReturnedAt == nil. На одну книгу — не более одной активной
// выдачи (частичный уникальный индекс loans_active_uniq).
type Loan struct {
	// ID — UUID выдачи
	ID string
	// BookID — UUID записи каталога
	BookID string
	// BorrowerID — идентификатор читателя (sub из JWT)
	BorrowerID string
	// CheckedOutAt — время выдачи
	CheckedOutAt time.Time
	// DueAt — срок возврата (nullable)
	DueAt *time.Time
	// ReturnedAt — время возврата (nil = активная выдача)
	ReturnedAt *time.Time
}

// Active сообщает, является ли выдача активной.
func (l *Loan) Active() bool {
	return l.ReturnedAt == nil
}

// LoanHistoryEntry — элемент истории выдач для рекомендаций.
// Репозиторий возвращает историю с жанром и автором книги одним запросом,
// чтобы не поднимать записи каталога по одной.
type LoanHistoryEntry struct {
	// BookID — UUID книги
	BookID string
	// Genre — жанр книги на момент запроса (nullable)
	Genre *string
	// Author — автор книги
	Author string
	// CheckedOutAt — время выдачи
	CheckedOutAt time.Time
}
