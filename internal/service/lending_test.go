package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/golibrary/internal/domain/model"
	"github.com/bigkaa/golibrary/internal/repository"
)

// newLendingService собирает сервис выдачи над общими моками.
// est == nil — оценщик всегда возвращает 30-дневный fallback.
func newLendingService(books *mockBookRepo, loans *mockLoanRepo, est dueDateEstimator) *LendingService {
	tx := &mockStores{stores: repository.Stores{Books: books, Loans: loans, Requests: &mockRequestRepo{}}}
	if est == nil {
		est = &mockEstimator{}
	}
	return NewLendingService(books, loans, tx, est, 100*time.Millisecond, newTestCache(), testLogger())
}

func TestLendingService_Checkout(t *testing.T) {
	claimed := false
	var created *model.Loan

	books := &mockBookRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Book, error) {
			return &model.Book{ID: id, Available: true}, nil
		},
		claimCheckoutFn: func(_ context.Context, _ string) error {
			claimed = true
			return nil
		},
	}
	loans := &mockLoanRepo{
		createFn: func(_ context.Context, l *model.Loan) error {
			if !claimed {
				t.Error("выдача создана до claim")
			}
			created = l
			return nil
		},
	}

	svc := newLendingService(books, loans, nil)

	loan, err := svc.Checkout(context.Background(), "book-1", "reader-1", nil)
	if err != nil {
		t.Fatalf("Checkout() вернул ошибку: %v", err)
	}
	if created == nil {
		t.Fatal("Loans.Create не вызван")
	}
	if loan.BookID != "book-1" || loan.BorrowerID != "reader-1" {
		t.Errorf("Loan = %+v, некорректные поля", loan)
	}
	if loan.ID == "" {
		t.Error("Loan.ID не назначен")
	}
}

func TestLendingService_Checkout_DueAtFromEstimator(t *testing.T) {
	dueAt := time.Now().Add(21 * 24 * time.Hour).Truncate(time.Second)
	estimateCalled := false

	books := &mockBookRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Book, error) {
			return &model.Book{
				ID: id, Title: "Dune", Author: "Frank Herbert",
				ISBN: ptr("9780441013593"), Available: true,
			}, nil
		},
	}
	var createdLoan *model.Loan
	loans := &mockLoanRepo{
		createFn: func(_ context.Context, l *model.Loan) error {
			createdLoan = l
			return nil
		},
	}
	est := &mockEstimator{
		estimateFn: func(_ context.Context, timeout time.Duration, title, author, isbn string) *DueDateEstimate {
			estimateCalled = true
			if timeout != 100*time.Millisecond {
				t.Errorf("timeout = %v, ожидается 100ms", timeout)
			}
			if title != "Dune" || author != "Frank Herbert" || isbn != "9780441013593" {
				t.Errorf("оценщик получил %q/%q/%q", title, author, isbn)
			}
			return &DueDateEstimate{Days: 21, DueAt: dueAt, Source: model.SourceA, PageCount: ptr(412)}
		},
	}

	svc := newLendingService(books, loans, est)

	loan, err := svc.Checkout(context.Background(), "book-1", "reader-1", nil)
	if err != nil {
		t.Fatalf("Checkout() вернул ошибку: %v", err)
	}
	if !estimateCalled {
		t.Fatal("оценщик срока возврата не вызван")
	}
	if createdLoan == nil {
		t.Fatal("Loans.Create не вызван")
	}
	if loan.DueAt == nil || !loan.DueAt.Equal(dueAt) {
		t.Errorf("Loan.DueAt = %v, ожидается оценка %v", loan.DueAt, dueAt)
	}
}

func TestLendingService_Checkout_FallbackDueAt(t *testing.T) {
	books := &mockBookRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Book, error) {
			return &model.Book{ID: id, Title: "Дюна", Available: true}, nil
		},
	}
	loans := &mockLoanRepo{}

	svc := newLendingService(books, loans, nil)

	loan, err := svc.Checkout(context.Background(), "book-1", "reader-1", nil)
	if err != nil {
		t.Fatalf("Checkout() вернул ошибку: %v", err)
	}
	if loan.DueAt == nil {
		t.Fatal("Loan.DueAt не установлен из fallback")
	}
	wantDays := 30 * 24 * time.Hour
	got := time.Until(*loan.DueAt)
	if got < wantDays-time.Minute || got > wantDays+time.Minute {
		t.Errorf("Loan.DueAt через %v, ожидается ~30 дней", got)
	}
}

func TestLendingService_Checkout_AdminDueAtSkipsEstimator(t *testing.T) {
	books := &mockBookRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Book, error) {
			return &model.Book{ID: id, Available: true}, nil
		},
	}
	est := &mockEstimator{
		estimateFn: func(_ context.Context, _ time.Duration, _, _, _ string) *DueDateEstimate {
			t.Error("оценщик не должен вызываться при заданном dueAt")
			return FallbackEstimate()
		},
	}

	svc := newLendingService(books, &mockLoanRepo{}, est)

	dueAt := time.Now().Add(14 * 24 * time.Hour)
	loan, err := svc.Checkout(context.Background(), "book-1", "admin-1", &dueAt)
	if err != nil {
		t.Fatalf("Checkout() вернул ошибку: %v", err)
	}
	if loan.DueAt == nil || !loan.DueAt.Equal(dueAt) {
		t.Errorf("Loan.DueAt = %v, ожидается заданный срок %v", loan.DueAt, dueAt)
	}
}

func TestLendingService_Checkout_LostRace(t *testing.T) {
	books := &mockBookRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Book, error) {
			return &model.Book{ID: id, Available: true}, nil
		},
		claimCheckoutFn: func(_ context.Context, _ string) error {
			return repository.ErrConflict
		},
	}
	svc := newLendingService(books, &mockLoanRepo{}, nil)

	_, err := svc.Checkout(context.Background(), "book-1", "reader-1", nil)
	requireErrorIs(t, err, ErrConflict)
}

func TestLendingService_Checkout_BookNotFound(t *testing.T) {
	svc := newLendingService(&mockBookRepo{}, &mockLoanRepo{}, nil)

	_, err := svc.Checkout(context.Background(), "missing", "reader-1", nil)
	requireErrorIs(t, err, ErrNotFound)
}

func TestLendingService_Checkout_DueAtInPast(t *testing.T) {
	svc := newLendingService(&mockBookRepo{}, &mockLoanRepo{}, nil)

	past := time.Now().Add(-time.Hour)
	_, err := svc.Checkout(context.Background(), "book-1", "reader-1", &past)
	requireErrorIs(t, err, ErrValidation)
}

func TestLendingService_Checkin_Owner(t *testing.T) {
	released := false
	closed := false

	loans := &mockLoanRepo{
		getActiveByBookFn: func(_ context.Context, bookID string) (*model.Loan, error) {
			return &model.Loan{ID: "loan-1", BookID: bookID, BorrowerID: "reader-1"}, nil
		},
		closeFn: func(_ context.Context, _ string, _ time.Time) error {
			closed = true
			return nil
		},
	}
	books := &mockBookRepo{
		releaseLoanFn: func(_ context.Context, _ string) error {
			released = true
			return nil
		},
	}

	svc := newLendingService(books, loans, nil)

	loan, err := svc.Checkin(context.Background(), "book-1", "reader-1", false)
	if err != nil {
		t.Fatalf("Checkin() вернул ошибку: %v", err)
	}
	if !closed || !released {
		t.Errorf("closed=%v released=%v, ожидается true/true", closed, released)
	}
	if loan.ReturnedAt == nil {
		t.Error("ReturnedAt не установлен")
	}
}

func TestLendingService_Checkin_Forbidden(t *testing.T) {
	loans := &mockLoanRepo{
		getActiveByBookFn: func(_ context.Context, bookID string) (*model.Loan, error) {
			return &model.Loan{ID: "loan-1", BookID: bookID, BorrowerID: "reader-1"}, nil
		},
	}
	svc := newLendingService(&mockBookRepo{}, loans, nil)

	_, err := svc.Checkin(context.Background(), "book-1", "other-reader", false)
	requireErrorIs(t, err, ErrForbidden)
}

func TestLendingService_Checkin_AdminOverride(t *testing.T) {
	loans := &mockLoanRepo{
		getActiveByBookFn: func(_ context.Context, bookID string) (*model.Loan, error) {
			return &model.Loan{ID: "loan-1", BookID: bookID, BorrowerID: "reader-1"}, nil
		},
	}
	svc := newLendingService(&mockBookRepo{}, loans, nil)

	if _, err := svc.Checkin(context.Background(), "book-1", "admin-1", true); err != nil {
		t.Fatalf("Checkin() администратором вернул ошибку: %v", err)
	}
}

func TestLendingService_Checkin_NoActiveLoan(t *testing.T) {
	svc := newLendingService(&mockBookRepo{}, &mockLoanRepo{}, nil)

	_, err := svc.Checkin(context.Background(), "book-1", "reader-1", false)
	requireErrorIs(t, err, ErrNotFound)
}

func TestLendingService_SetDueDate(t *testing.T) {
	dueAt := time.Now().Add(14 * 24 * time.Hour)

	t.Run("прошлое — валидация", func(t *testing.T) {
		svc := newLendingService(&mockBookRepo{}, &mockLoanRepo{}, nil)
		_, err := svc.SetDueDate(context.Background(), "loan-1", time.Now().Add(-time.Hour))
		requireErrorIs(t, err, ErrValidation)
	})

	t.Run("выдача не существует", func(t *testing.T) {
		loans := &mockLoanRepo{
			setDueDateFn: func(_ context.Context, _ string, _ time.Time) error {
				return repository.ErrConflict
			},
		}
		svc := newLendingService(&mockBookRepo{}, loans, nil)
		_, err := svc.SetDueDate(context.Background(), "missing", dueAt)
		requireErrorIs(t, err, ErrNotFound)
	})

	t.Run("выдача закрыта", func(t *testing.T) {
		returned := time.Now()
		loans := &mockLoanRepo{
			setDueDateFn: func(_ context.Context, _ string, _ time.Time) error {
				return repository.ErrConflict
			},
			getByIDFn: func(_ context.Context, id string) (*model.Loan, error) {
				return &model.Loan{ID: id, ReturnedAt: &returned}, nil
			},
		}
		svc := newLendingService(&mockBookRepo{}, loans, nil)
		_, err := svc.SetDueDate(context.Background(), "loan-1", dueAt)
		requireErrorIs(t, err, ErrConflict)
	})

	t.Run("успех", func(t *testing.T) {
		loans := &mockLoanRepo{
			getByIDFn: func(_ context.Context, id string) (*model.Loan, error) {
				return &model.Loan{ID: id, DueAt: &dueAt}, nil
			},
		}
		svc := newLendingService(&mockBookRepo{}, loans, nil)
		loan, err := svc.SetDueDate(context.Background(), "loan-1", dueAt)
		if err != nil {
			t.Fatalf("SetDueDate() вернул ошибку: %v", err)
		}
		if loan.DueAt == nil || !loan.DueAt.Equal(dueAt) {
			t.Errorf("DueAt = %v, ожидается %v", loan.DueAt, dueAt)
		}
	})
}
