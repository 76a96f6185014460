package repository

import (
	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
)

// bridgeTransferRepository implements the BridgeTransferRepository interface
type bridgeTransferRepository struct {
	db *gorm.DB
}

// NewBridgeTransferRepository creates a new bridge transfer repository instance
func NewBridgeTransferRepository(db *gorm.DB) BridgeTransferRepository {
	return &bridgeTransferRepository{db: db}
}

// Create persists a new bridge transfer
func (r *bridgeTransferRepository) Create(transfer *models.BridgeTransfer) error {
	return r.db.Create(transfer).Error
}

// GetByID retrieves a transfer by its ID
func (r *bridgeTransferRepository) GetByID(id string) (*models.BridgeTransfer, error) {
	var transfer models.BridgeTransfer
	if err := r.db.First(&transfer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}

// Update saves transfer state
func (r *bridgeTransferRepository) Update(transfer *models.BridgeTransfer) error {
	return r.db.Save(transfer).Error
}

// List returns transfers newest first
func (r *bridgeTransferRepository) List(offset, limit int) ([]models.BridgeTransfer, error) {
	var transfers []models.BridgeTransfer
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&transfers).Error
	return transfers, err
}

// ListInFlight returns transfers whose polling must resume after a restart
func (r *bridgeTransferRepository) ListInFlight() ([]models.BridgeTransfer, error) {
	var transfers []models.BridgeTransfer
	err := r.db.
		Where("phase IN ?", []string{models.BridgePhaseBurning, models.BridgePhaseMinting}).
		Order("created_at ASC").
		Find(&transfers).Error
	return transfers, err
}
