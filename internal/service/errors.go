// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — состояние ресурса изменилось конкурентно
	// (проигранный claim, активная выдача, дубликат).
	ErrConflict = errors.New("конфликт — состояние ресурса изменилось")
	// ErrForbidden — операция запрещена для текущего пользователя.
	ErrForbidden = errors.New("операция запрещена")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrProvidersUnavailable — ни один внешний источник метаданных не ответил.
	ErrProvidersUnavailable = errors.New("внешние источники метаданных недоступны")
)
