package models

import "time"

// User is the aggregate root. It exclusively owns its Useremails and Roles.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"userid"`
	Username  string    `gorm:"uniqueIndex;size:255;not null" json:"username"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// PrimaryEmail is derived from the lowest-positioned Useremail on read.
	PrimaryEmail string `gorm:"-" json:"primaryemail,omitempty"`

	// Relations
	Useremails []Useremail `gorm:"foreignKey:UserID" json:"useremails"`
	Roles      []UserRole  `gorm:"foreignKey:UserID" json:"roles"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// FillPrimaryEmail sets PrimaryEmail from the loaded Useremails.
func (u *User) FillPrimaryEmail() {
	u.PrimaryEmail = ""
	var primary *Useremail
	for i := range u.Useremails {
		e := &u.Useremails[i]
		if primary == nil || e.Position < primary.Position ||
			(e.Position == primary.Position && e.ID < primary.ID) {
			primary = e
		}
	}
	if primary != nil {
		u.PrimaryEmail = primary.Email
	}
}

// UserEmailCount reports how many emails a user has beyond the primary one
type UserEmailCount struct {
	UserID      uint   `json:"userid"`
	Username    string `json:"username"`
	CountEmails int64  `json:"countemails"`
}
