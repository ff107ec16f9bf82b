// Package domain contains the canonical device models produced by the pipeline.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockline/internal/sku"
)

type WorkingStatus string

const (
	WorkingYes     WorkingStatus = "yes"
	WorkingNo      WorkingStatus = "no"
	WorkingPending WorkingStatus = "pending"
)

// DeviceRecord is the single internal shape of an inspected unit. IMEI is the
// natural key; re-ingesting an IMEI updates this row.
type DeviceRecord struct {
	IMEI            string        `gorm:"primaryKey;type:varchar(64)" json:"imei"`
	Brand           string        `gorm:"type:text" json:"brand"`
	Model           string        `gorm:"type:text" json:"model"`
	ModelNumber     string        `gorm:"type:text" json:"model_number"`
	Storage         string        `gorm:"type:text" json:"storage"`
	Color           string        `gorm:"type:text" json:"color"`
	Carrier         string        `gorm:"type:text" json:"carrier"`
	WorkingStatus   WorkingStatus `gorm:"type:varchar(16);not null" json:"working_status"`
	BatteryHealth   *int          `json:"battery_health,omitempty"`
	ConditionGrade  string        `gorm:"type:text" json:"condition_grade"`
	Notes           string        `gorm:"type:text" json:"notes"`
	Category        sku.Category  `gorm:"type:varchar(16)" json:"category"`
	Source          string        `gorm:"type:text" json:"source"`
	TestedAt        *time.Time    `json:"tested_at,omitempty"`
	ReportedAt      *time.Time    `json:"reported_at,omitempty"`
	LastQueueItemID snowflake.ID  `gorm:"not null" json:"last_queue_item_id"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (DeviceRecord) TableName() string { return "devices" }

// Attributes returns the fields the SKU generator reads.
func (d DeviceRecord) Attributes() sku.Attributes {
	return sku.Attributes{
		Brand:       d.Brand,
		Model:       d.Model,
		ModelNumber: d.ModelNumber,
		Storage:     d.Storage,
		Color:       d.Color,
		Carrier:     d.Carrier,
		Description: d.Notes,
	}
}

// SkuMatchResult is the current match for an IMEI; a new match replaces it.
type SkuMatchResult struct {
	IMEI        string     `gorm:"primaryKey;type:varchar(64)" json:"imei"`
	OriginalSku string     `gorm:"type:text;not null" json:"original_sku"`
	MatchedSku  *string    `gorm:"type:text" json:"matched_sku,omitempty"`
	MatchScore  float64    `gorm:"not null" json:"match_score"`
	MatchMethod sku.Method `gorm:"type:varchar(32);not null" json:"match_method"`
	MatchStatus sku.Status `gorm:"type:varchar(32);not null;index" json:"match_status"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (SkuMatchResult) TableName() string { return "sku_match_results" }

// InventoryKey is the key a unit is counted under: the matched catalog SKU,
// falling back to the generated one.
func (r SkuMatchResult) InventoryKey() string {
	if r.MatchedSku != nil && *r.MatchedSku != "" {
		return *r.MatchedSku
	}
	return r.OriginalSku
}

// InspectionRecord is one inspection of a unit, keyed by the queue item that
// carried it so a retried item never adds a second row.
type InspectionRecord struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	IMEI           string        `gorm:"type:varchar(64);not null;uniqueIndex:ux_device_inspections_item,priority:1" json:"imei"`
	QueueItemID    snowflake.ID  `gorm:"not null;uniqueIndex:ux_device_inspections_item,priority:2" json:"queue_item_id"`
	WorkingStatus  WorkingStatus `gorm:"type:varchar(16);not null" json:"working_status"`
	BatteryHealth  *int          `json:"battery_health,omitempty"`
	ConditionGrade string        `gorm:"type:text" json:"condition_grade"`
	Notes          string        `gorm:"type:text" json:"notes"`
	Source         string        `gorm:"type:text" json:"source"`
	InspectedAt    time.Time     `gorm:"not null" json:"inspected_at"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
}

func (InspectionRecord) TableName() string { return "device_inspections" }

// InventoryRollup counts units per inventory key.
type InventoryRollup struct {
	SkuKey       string    `gorm:"primaryKey;type:varchar(128)" json:"sku_key"`
	TotalUnits   int64     `gorm:"not null" json:"total_units"`
	WorkingUnits int64     `gorm:"not null" json:"working_units"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (InventoryRollup) TableName() string { return "inventory_rollups" }
