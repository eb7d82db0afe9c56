package models

import "time"

// AuditLog is an append-only record of every workflow mutation, written in
// the same transaction as the mutation itself.
type AuditLog struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	EntityType string    `json:"entity_type" gorm:"index:idx_audit_entity;not null"`
	EntityID   uint      `json:"entity_id" gorm:"index:idx_audit_entity;not null"`
	Action     string    `json:"action" gorm:"index;not null"`
	ActorID    *uint     `json:"actor_id,omitempty" gorm:"index"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
