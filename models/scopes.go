package models

import (
	"time"

	"gorm.io/gorm"
)

// PageSize is the fixed listing page size.
const PageSize = 10

// PublicationWindow limits a post query to publicly visible posts: published,
// pub date in the past, and category (when set) published. This is the
// anonymous-safe branch of the visibility policy; it never applies the
// owner override, so listings stay identical for every viewer.
func PublicationWindow(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.
			Joins("LEFT JOIN categories ON categories.id = posts.category_id").
			Where("posts.is_published = ?", true).
			Where("posts.pub_date <= ?", now).
			Where("posts.category_id IS NULL OR categories.is_published = ?", true)
	}
}

// WithCommentCount annotates each post row with the number of comments it has.
func WithCommentCount(tx *gorm.DB) *gorm.DB {
	return tx.Select("posts.*, (SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id) AS comment_count")
}

// RecentFirst orders posts by publication date, newest first.
func RecentFirst(tx *gorm.DB) *gorm.DB {
	return tx.Order("posts.pub_date DESC")
}

// Paginate applies the fixed page size for the given 1-based page number.
func Paginate(page int) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if page < 1 {
			page = 1
		}
		return tx.Offset((page - 1) * PageSize).Limit(PageSize)
	}
}
