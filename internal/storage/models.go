// v2
// internal/storage/models.go

package storage

import "time"

// LogRecord is one persisted reading. ID is a UUID assigned at write time.
type LogRecord struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	SourceID    string    `gorm:"index;not null;size:255" json:"sourceId"`
	Temperature float64   `gorm:"not null" json:"temperature"`
	Humidity    float64   `gorm:"not null" json:"humidity"`
	Timestamp   time.Time `gorm:"index;not null" json:"timestamp"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (LogRecord) TableName() string { return "temperature_logs" }

// UserRecord is a known account, mirrored from the identity provider on
// first successful sign-in.
type UserRecord struct {
	ID        string    `gorm:"primaryKey;size:128" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null;size:255" json:"email"`
	Name      string    `gorm:"size:255" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (UserRecord) TableName() string { return "users" }

// PredictionRecord stores one mold-risk assessment alongside the model's
// structured verdict and the raw completion it was parsed from.
type PredictionRecord struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	SourceID    string    `gorm:"index;not null;size:255" json:"sourceId"`
	Conclusion  string    `gorm:"not null" json:"conclusion"`
	GrowthScore int       `gorm:"not null" json:"growthScore"`
	RiskLevel   string    `gorm:"not null;size:16" json:"riskLevel"`
	Advice      string    `json:"advice"`
	Rationale   string    `json:"rationale"`
	RawResponse string    `json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (PredictionRecord) TableName() string { return "predictions" }

func allModels() []any {
	return []any{&LogRecord{}, &UserRecord{}, &PredictionRecord{}}
}
