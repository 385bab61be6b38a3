package models

import (
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite" // Sqlite driver based on CGO
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open Open the database described by driver (sqlite or mysql). For sqlite dsn is the filename.
func Open(driver string, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dsnConfig, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("cannot parse mysql dsn: %w", err)
		}
		dsnConfig.ParseTime = true
		dialector = mysql.New(mysql.Config{DSNConfig: dsnConfig})
	default:
		return nil, fmt.Errorf("unsupported database driver %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Image{}, &MaskAnnotation{}); err != nil {
		return nil, fmt.Errorf("cannot migrate database: %w", err)
	}
	return db, nil
}

// ConnectDataBase Open the database and store it in DB
func ConnectDataBase(driver string, dsn string) error {
	target := dsn
	if driver == "mysql" {
		// the dsn carries the password
		target = "configured server"
	}
	db, err := Open(driver, dsn)
	if err != nil {
		log.Error(fmt.Sprintf("Cannot connect %s database at %s", driver, target))
		return err
	}
	log.Info(fmt.Sprintf("Connecting %s database at %s", driver, target))
	DB = db
	return nil
}
