package services

import (
	"context"

	"github.com/rs/zerolog"
)

// BulkDeleter removes every record of one kind.
type BulkDeleter interface {
	DeleteAll(ctx context.Context) (int64, error)
}

// ClearReport counts the records removed by ClearAll.
type ClearReport struct {
	Users int64
	Codes int64
}

// AdminService holds administrative operations.
type AdminService struct {
	users BulkDeleter
	codes BulkDeleter
}

func NewAdminService(users, codes BulkDeleter) *AdminService {
	return &AdminService{users: users, codes: codes}
}

// ClearAll deletes all users, all pending codes and resets the user counter.
// It cannot be undone.
func (s *AdminService) ClearAll(ctx context.Context) (ClearReport, error) {
	var report ClearReport

	users, err := s.users.DeleteAll(ctx)
	if err != nil {
		return report, storeError(err)
	}
	report.Users = users

	codes, err := s.codes.DeleteAll(ctx)
	if err != nil {
		return report, storeError(err)
	}
	report.Codes = codes

	zerolog.Ctx(ctx).Warn().Int64("users", report.Users).Int64("codes", report.Codes).Msg("accounts cleared")
	return report, nil
}
