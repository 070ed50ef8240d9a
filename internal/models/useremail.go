package models

// Useremail is an email address owned by exactly one User.
// Position records submission order; the lowest position is the primary address.
type Useremail struct {
	ID       uint   `gorm:"primaryKey" json:"useremailid"`
	UserID   uint   `gorm:"not null;uniqueIndex:idx_useremails_user_email" json:"-"`
	Email    string `gorm:"size:255;not null;uniqueIndex:idx_useremails_user_email" json:"useremail"`
	Position int    `gorm:"not null;default:0" json:"-"`
}

// TableName specifies the table name for Useremail model
func (Useremail) TableName() string {
	return "useremails"
}
