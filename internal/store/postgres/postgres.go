package postgres

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// Connect opens the database with custom pool configuration.
func Connect(connURL string, maxIdleConnections, maxOpenConnections int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(connURL), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(maxIdleConnections)
	sqlDB.SetMaxOpenConns(maxOpenConnections)
	return db, nil
}

// Migrate brings the schema up to date.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&JobRecord{}, &TaskRecord{}, &RepositoryRecord{})
}
