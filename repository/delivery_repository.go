package repository

import (
	"fmt"

	"melodex/model"

	"gorm.io/gorm"
)

// DeliveryRepository records successful artifact deliveries.
type DeliveryRepository interface {
	Record(delivery *model.Delivery) error
	CountByUser(userID int64) (int64, error)
	RecentByUser(userID int64, limit int) ([]*model.Delivery, error)
}

// gormDeliveryRepository implements DeliveryRepository on GORM.
type gormDeliveryRepository struct {
	db *gorm.DB
}

// NewGormDeliveryRepository creates a new gormDeliveryRepository.
func NewGormDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &gormDeliveryRepository{db: db}
}

// Record inserts a delivery row.
func (r *gormDeliveryRepository) Record(delivery *model.Delivery) error {
	if err := r.db.Create(delivery).Error; err != nil {
		return fmt.Errorf("failed to record delivery for user %d: %w", delivery.UserID, err)
	}
	return nil
}

// CountByUser returns the user's lifetime delivery total.
func (r *gormDeliveryRepository) CountByUser(userID int64) (int64, error) {
	var count int64
	if err := r.db.Model(&model.Delivery{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count deliveries for user %d: %w", userID, err)
	}
	return count, nil
}

// RecentByUser returns the user's most recent deliveries.
func (r *gormDeliveryRepository) RecentByUser(userID int64, limit int) ([]*model.Delivery, error) {
	var deliveries []*model.Delivery
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries for user %d: %w", userID, err)
	}
	return deliveries, nil
}
