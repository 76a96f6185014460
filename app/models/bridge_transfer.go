package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	BridgePhaseEstimated = "estimated"
	BridgePhaseBurning   = "burning"
	BridgePhaseMinting   = "minting"
	BridgePhaseCompleted = "completed"
	BridgePhaseFailed    = "failed"
)

// BridgeTransfer is a burn-on-source / mint-on-destination transfer tracked
// through its phases. Phase and transaction hashes are persisted so a
// restart resumes polling instead of losing in-flight transfers. A transfer
// that burned but failed before minting keeps FailedPhase so operators can
// see where it stuck; it is never re-burned automatically.
type BridgeTransfer struct {
	ID            string     `gorm:"primaryKey;type:varchar(45)" json:"id"`
	SourceChainID int64      `gorm:"not null" json:"source_chain_id"`
	DestChainID   int64      `gorm:"not null" json:"dest_chain_id"`
	Amount        string     `gorm:"type:varchar(40);not null" json:"amount"`
	Currency      string     `gorm:"type:varchar(10);not null;default:'USDC'" json:"currency"`
	Phase         string     `gorm:"type:varchar(20);not null;default:'estimated';index" json:"phase"`
	BurnTxHash    *string    `gorm:"type:varchar(100)" json:"burn_tx_hash,omitempty"`
	MintTxHash    *string    `gorm:"type:varchar(100)" json:"mint_tx_hash,omitempty"`
	FailedPhase   string     `gorm:"type:varchar(20)" json:"failed_phase,omitempty"`
	FailureReason string     `gorm:"type:varchar(500)" json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt   *time.Time `gorm:"type:timestamp" json:"completed_at,omitempty"`
}

// NewBridgeTransferID returns a display-prefixed transfer identifier.
func NewBridgeTransferID() string {
	return fmt.Sprintf("bt_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// InFlight reports whether the transfer still needs polling after a restart.
func (t *BridgeTransfer) InFlight() bool {
	return t.Phase == BridgePhaseBurning || t.Phase == BridgePhaseMinting
}
