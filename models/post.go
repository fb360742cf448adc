package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is a blog entry. PubDate may be in the future for scheduled posts;
// such posts stay invisible to everyone but the author until the date passes.
type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AuthorID    uint      `gorm:"index;not null" json:"author_id"`
	CategoryID  *uint     `gorm:"index" json:"category_id"`
	LocationID  *uint     `json:"location_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Body        string    `gorm:"type:text;not null" json:"body"`
	PubDate     time.Time `gorm:"index;not null" json:"pub_date"`
	IsPublished bool      `gorm:"default:true" json:"is_published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Author      User      `json:"author"`
	Category    *Category `json:"category,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Comments    []Comment `json:"-"`

	// Filled by listing queries, not a column.
	CommentCount int64 `gorm:"->;-:migration" json:"comment_count"`
}

// BeforeCreate defaults PubDate to the creation time when unset.
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.PubDate.IsZero() {
		p.PubDate = time.Now()
	}
	return nil
}
