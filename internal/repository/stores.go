// stores.go — набор репозиториев над одним исполнителем запросов.
// Сервисный слой получает через RunInStores репозитории, привязанные
// к одной транзакции: claim и зависимая вставка атомарны.
package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Stores — репозитории, разделяющие один DBTX (пул или транзакцию).
type Stores struct {
	Books    BookRepository
	Loans    LoanRepository
	Requests RequestRepository
}

// NewStores создаёт набор репозиториев над db.
func NewStores(db DBTX) Stores {
	return Stores{
		Books:    NewBookRepository(db),
		Loans:    NewLoanRepository(db),
		Requests: NewRequestRepository(db),
	}
}

// RunInStores выполняет fn над репозиториями одной транзакции.
// Ошибка fn откатывает транзакцию целиком.
func (r *TxRunner) RunInStores(ctx context.Context, fn func(s Stores) error) error {
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewStores(tx))
	})
}
