package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"algotrader/src/database"
	"algotrader/src/model"
)

// UserRepository handles the trading accounts alerts are executed for.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository instance using the main
// read/write database.
func NewUserRepository() *UserRepository {
	return &UserRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *UserRepository) WithDB(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID fetches a single user. Returns (nil, nil) if not found.
func (r *UserRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.User, error) {

	var user model.User

	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "UserRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("User not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "UserRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch user")

		return nil, err
	}

	return &user, nil
}

// SetBrokerToken stores the encrypted broker access token for the user.
func (r *UserRepository) SetBrokerToken(
	ctx context.Context,
	id uint,
	cipher []byte,
) error {
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("broker_token", cipher).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "UserRepository",
			"op":   "SetBrokerToken",
			"id":   id,
		}).WithError(err).Error("Failed to store broker token")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo": "UserRepository",
		"op":   "SetBrokerToken",
		"id":   id,
	}).Info("Broker token updated")

	return nil
}
