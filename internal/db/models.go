package db

// State is a key/value row for durable client-side state such as the
// persisted session credential and identity snapshot.
type State struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value;not null;default:''"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (State) TableName() string { return "client_state" }
