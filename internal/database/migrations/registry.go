package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/tvrec/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: recordings history table
func AllMigrations() []Migration {
	return []Migration{
		migration001Recordings(),
	}
}

func migration001Recordings() Migration {
	return Migration{
		Version:     "001",
		Description: "Create recordings table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Recording{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.Recording{})
		},
	}
}
