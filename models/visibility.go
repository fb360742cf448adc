package models

import "time"

// PubliclyVisible reports whether the post sits inside its publication
// window for an arbitrary (possibly anonymous) viewer: the post is
// published, its pub date has passed, and its category, when set, is
// published too. Posts without a category only need their own flags.
//
// Callers must have Category loaded whenever CategoryID is set.
func (p *Post) PubliclyVisible(now time.Time) bool {
	if !p.IsPublished || p.PubDate.After(now) {
		return false
	}
	if p.CategoryID != nil {
		return p.Category != nil && p.Category.IsPublished
	}
	return true
}

// VisibleTo reports whether the given viewer may read the post. The author
// always sees their own posts regardless of publication state; everyone
// else gets the public window check. viewerID 0 means anonymous.
//
// A false result must surface as NotFound, never as Forbidden, so the
// existence of unpublished posts does not leak.
func (p *Post) VisibleTo(viewerID uint, now time.Time) bool {
	if viewerID != 0 && viewerID == p.AuthorID {
		return true
	}
	return p.PubliclyVisible(now)
}

// MutableBy reports whether the viewer may edit or delete the post.
func (p *Post) MutableBy(viewerID uint) bool {
	return viewerID != 0 && viewerID == p.AuthorID
}

// MutableBy reports whether the viewer may edit or delete the comment.
// Only the comment's own author qualifies, not the parent post's.
func (c *Comment) MutableBy(viewerID uint) bool {
	return viewerID != 0 && viewerID == c.AuthorID
}
