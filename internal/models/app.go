package models

import "time"

// AppDocument is one published app derived from a canonical document.
type AppDocument struct {
	ID         string `gorm:"type:char(36);primaryKey"`
	DocumentID string `gorm:"type:char(36);not null;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UserAppInstance is one user's private instance of a published app,
// holding its own independent persisted state bytes. Instances accept user
// edits but are replaced wholesale on every propagation.
type UserAppInstance struct {
	InstanceID   uint64 `gorm:"primaryKey;autoIncrement"`
	AppID        string `gorm:"type:char(36);not null;index:idx_app_user,unique"`
	UserID       string `gorm:"type:char(36);not null;index:idx_app_user,unique"`
	State        []byte
	StateVersion uint64 `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OnboardingTutorial tracks a workspace's progress through the fixed
// onboarding step list.
type OnboardingTutorial struct {
	WorkspaceID string `gorm:"type:char(36);primaryKey"`
	CurrentStep string `gorm:"size:64;not null"`
	IsComplete  bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides the table name for AppDocument
func (AppDocument) TableName() string {
	return "app_documents"
}

// TableName overrides the table name for UserAppInstance
func (UserAppInstance) TableName() string {
	return "user_app_instances"
}

// TableName overrides the table name for OnboardingTutorial
func (OnboardingTutorial) TableName() string {
	return "onboarding_tutorials"
}
