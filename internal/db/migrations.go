package db

import (
	"gorm.io/gorm"
)

// EnsureIndexes — страховка для таблиц, созданных до появления составных
// индексов (AutoMigrate не всегда достраивает их на живой схеме).
func EnsureIndexes(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	dialect := db.Dialector.Name()

	type idx struct {
		table string
		name  string
		cols  string
	}
	wanted := []idx{
		{"testers", "idx_gig_tester", "gig_id, tester_id"},
		{"day_buckets", "idx_day", "gig_id, tester_id, date_key"},
		{"device_bindings", "idx_binding", "gig_id, device_id, tester_id"},
	}

	for _, i := range wanted {
		if !db.Migrator().HasTable(i.table) {
			continue
		}
		if db.Migrator().HasIndex(i.table, i.name) {
			continue
		}
		switch dialect {
		case "postgres", "sqlite":
			_ = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ` + i.name + ` ON "` + i.table + `" (` + i.cols + `)`).Error
		default: // mysql
			_ = db.Exec("CREATE UNIQUE INDEX " + i.name + " ON `" + i.table + "` (" + i.cols + ")").Error
		}
	}
	return nil
}
