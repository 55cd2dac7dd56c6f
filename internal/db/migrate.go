package db

import (
	"updown/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Candle{},
		&models.Poll{},
		&models.Vote{},
		&models.Payout{},
		&models.UserAccount{},
		&models.SeasonStat{},
	)
}
