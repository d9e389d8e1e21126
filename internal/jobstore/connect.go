package jobstore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds the MySQL DSN CellCC connects to the jobs database with.
func DSN(host string, port int, user, password, database string) string {
	auth := user
	if password != "" {
		auth = fmt.Sprintf("%s:%s", user, password)
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", auth, host, port, database)
}

// Connect opens a GORM connection to the jobs database.
func Connect(host string, port int, user, password, database string) (*gorm.DB, error) {
	dsn := DSN(host, port, user, password, database)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("jobstore: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}
