package service

import (
	"context"
	"fmt"

	"github.com/eventedge/hypepipe/internal/audit"
)

// AuditLogProvider описывает контракт для чтения данных аудита.
// Используем структуру Record из пакета audit, чтобы сохранить единую модель данных.
type AuditLogProvider interface {
	FetchRecords(ctx context.Context, agentID, capID string, limit int) ([]audit.Record, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchLogs запрашивает логи с фильтрацией.
// Логика фильтрации (пустые строки или конкретные ID) инкапсулирована в репозитории.
func (s *AuditService) FetchLogs(ctx context.Context, agentID, capID string, limit int) ([]audit.Record, error) {
	logs, err := s.repo.FetchRecords(ctx, agentID, capID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
