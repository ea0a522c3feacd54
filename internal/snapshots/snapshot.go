// Package snapshots — чтение пре-фетченных датасетов (цена, funding, OI,
// ликвидации, sentiment) из общей реляционной базы бота.
// Формы payload сверены с реальным содержимым edge_dataset_registry.
package snapshots

import (
	"context"
	"strconv"
	"time"
)

// Snapshot — один датасет: payload как есть плюс момент обновления.
type Snapshot struct {
	Payload   map[string]any
	UpdatedAt time.Time
}

// Reader — контракт читателя снапшотов. Отсутствие датасета — это
// (nil, nil), а не ошибка: хендлеры на этом деградируют в заглушку.
type Reader interface {
	GetSnapshot(ctx context.Context, datasetKey string) (*Snapshot, error)
}

// Num приводит значение из JSON-payload к *float64.
// nil — если значение отсутствует или не числовое.
func Num(x any) *float64 {
	switch v := x.(type) {
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func asMap(x any) map[string]any {
	m, _ := x.(map[string]any)
	return m
}

func asSlice(x any) []any {
	s, _ := x.([]any)
	return s
}
