package database

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whatsapp-inbox/internal/models"
)

const copyBatchSize = 200

// serialTables use auto-increment ids and need their sequences moved past
// the copied rows on postgres.
var serialTables = []string{"automation_rules", "automation_logs"}

// TableResult reports the copy of one table.
type TableResult struct {
	Table string
	Rows  int
	Err   error
}

// CopyAll copies every table from src into dst in dependency order. Rows
// whose primary key already exists in dst are skipped, so the copy can be
// re-run. A failing table is reported and the copy continues.
func CopyAll(ctx context.Context, src, dst *gorm.DB) []TableResult {
	steps := []struct {
		table string
		copy  func(context.Context, *gorm.DB, *gorm.DB) (int, error)
	}{
		{"users", copyTable[models.User]},
		{"phone_numbers", copyTable[models.PhoneNumber]},
		{"contacts", copyTable[models.Contact]},
		{"messages", copyTable[models.Message]},
		{"waba_accounts", copyTable[models.WabaAccount]},
		{"waba_templates", copyTable[models.WabaTemplate]},
		{"dead_letters", copyTable[models.DeadLetter]},
		{"automation_rules", copyTable[models.AutomationRule]},
		{"automation_logs", copyTable[models.AutomationLog]},
	}

	results := make([]TableResult, 0, len(steps))
	for _, step := range steps {
		n, err := step.copy(ctx, src, dst)
		if err != nil {
			zap.L().Error("Table copy failed", zap.String("table", step.table), zap.Error(err))
		} else {
			zap.L().Info("Table copied", zap.String("table", step.table), zap.Int("rows", n))
		}
		results = append(results, TableResult{Table: step.table, Rows: n, Err: err})
	}
	return results
}

func copyTable[T any](ctx context.Context, src, dst *gorm.DB) (int, error) {
	var rows []T
	if err := src.WithContext(ctx).Find(&rows).Error; err != nil {
		return 0, errors.Wrap(err, "read source")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := dst.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, copyBatchSize).Error
	})
	if err != nil {
		return 0, errors.Wrap(err, "write destination")
	}
	return len(rows), nil
}

// ResetSequences moves postgres id sequences past the highest copied id.
// Other dialects have nothing to reset.
func ResetSequences(ctx context.Context, db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, table := range serialTables {
		query := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), coalesce(max(id), 0) + 1, false) FROM %[1]s", table)
		if err := db.WithContext(ctx).Exec(query).Error; err != nil {
			return errors.Wrapf(err, "reset sequence for %s", table)
		}
		zap.L().Info("Sequence synced", zap.String("table", table))
	}
	return nil
}
