package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"blogium/models"
	"blogium/utils"
)

// PostController manages listings, detail retrieval, and CRUD for posts and comments.
type PostController struct {
	db *gorm.DB
}

// NewPostController creates a new PostController instance.
func NewPostController(db *gorm.DB) *PostController {
	return &PostController{db: db}
}

// notFoundPost answers the single NotFound used for posts. Missing ids and
// policy-invisible posts share it so existence never leaks.
func notFoundPost(ctx *gin.Context) {
	utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
}

type postInput struct {
	Title       string     `json:"title" binding:"required,min=1"`
	Body        string     `json:"body" binding:"required"`
	CategoryID  *uint      `json:"category_id"`
	LocationID  *uint      `json:"location_id"`
	PubDate     *time.Time `json:"pub_date"`
	IsPublished *bool      `json:"is_published"`
}

// resolveRefs validates that referenced category/location rows exist.
func (p *PostController) resolveRefs(req *postInput) error {
	if req.CategoryID != nil {
		var n int64
		if err := p.db.Model(&models.Category{}).Where("id = ?", *req.CategoryID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return errUnknownCategory
		}
	}
	if req.LocationID != nil {
		var n int64
		if err := p.db.Model(&models.Location{}).Where("id = ?", *req.LocationID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return errUnknownLocation
		}
	}
	return nil
}

var (
	errUnknownCategory = errors.New("unknown category id")
	errUnknownLocation = errors.New("unknown location id")
)

// ListPosts returns the public index feed: published posts inside their
// publication window, newest first, annotated with comment counts.
func (p *PostController) ListPosts(ctx *gin.Context) {
	page := parsePage(ctx.Query("page"))

	cacheKey := fmt.Sprintf("cache:posts:list:all:page=%d", page)
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		ctx.Data(200, "application/json", b)
		return
	}

	now := time.Now()
	var total int64
	if err := p.db.Model(&models.Post{}).Scopes(models.PublicationWindow(now)).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to count posts")
		return
	}

	var posts []models.Post
	err := p.db.Model(&models.Post{}).
		Scopes(models.PublicationWindow(now), models.WithCommentCount, models.RecentFirst, models.Paginate(page)).
		Preload("Author").Preload("Category").Preload("Location").
		Find(&posts).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list posts")
		return
	}

	payload := gin.H{
		"items":      posts,
		"pagination": paginationMeta(page, total),
	}
	utils.CacheSetJSON(cacheKey, utils.JSONResponse{Code: 0, Message: "success", Data: payload}, time.Hour)
	utils.Success(ctx, payload)
}

// ListCategoryPosts returns the index feed narrowed to one published
// category. An unpublished or unknown slug is NotFound as a whole.
func (p *PostController) ListCategoryPosts(ctx *gin.Context) {
	slug := strings.TrimSpace(ctx.Param("slug"))
	page := parsePage(ctx.Query("page"))

	cacheKey := fmt.Sprintf("cache:posts:list:cat=%s:page=%d", slug, page)
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		ctx.Data(200, "application/json", b)
		return
	}

	var category models.Category
	if err := p.db.Where("slug = ? AND is_published = ?", slug, true).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40402, "category not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to load category")
		return
	}

	now := time.Now()
	var total int64
	q := p.db.Model(&models.Post{}).
		Scopes(models.PublicationWindow(now)).
		Where("posts.category_id = ?", category.ID)
	if err := q.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to count posts")
		return
	}

	var posts []models.Post
	err := p.db.Model(&models.Post{}).
		Scopes(models.PublicationWindow(now), models.WithCommentCount, models.RecentFirst, models.Paginate(page)).
		Where("posts.category_id = ?", category.ID).
		Preload("Author").Preload("Category").Preload("Location").
		Find(&posts).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50025, "failed to list posts")
		return
	}

	payload := gin.H{
		"category":   category,
		"items":      posts,
		"pagination": paginationMeta(page, total),
	}
	utils.CacheSetJSON(cacheKey, utils.JSONResponse{Code: 0, Message: "success", Data: payload}, time.Hour)
	utils.Success(ctx, payload)
}

// ListProfilePosts returns every post by the named author, including
// unpublished and future-dated ones, newest first. The absent visibility
// filter mirrors the observed product behavior; the detail endpoint still
// enforces the policy.
func (p *PostController) ListProfilePosts(ctx *gin.Context) {
	username := strings.TrimSpace(ctx.Param("username"))
	page := parsePage(ctx.Query("page"))

	cacheKey := fmt.Sprintf("cache:users:%s:posts:page=%d", username, page)
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		ctx.Data(200, "application/json", b)
		return
	}

	var profile models.User
	if err := p.db.Where("username = ?", username).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40403, "user not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50026, "failed to load user")
		return
	}

	var total int64
	if err := p.db.Model(&models.Post{}).Where("posts.author_id = ?", profile.ID).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50027, "failed to count user posts")
		return
	}

	var posts []models.Post
	err := p.db.Model(&models.Post{}).
		Scopes(models.WithCommentCount, models.RecentFirst, models.Paginate(page)).
		Where("posts.author_id = ?", profile.ID).
		Preload("Author").Preload("Category").Preload("Location").
		Find(&posts).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50028, "failed to list user posts")
		return
	}

	payload := gin.H{
		"profile":    profile,
		"items":      posts,
		"pagination": paginationMeta(page, total),
	}
	utils.CacheSetJSON(cacheKey, utils.JSONResponse{Code: 0, Message: "success", Data: payload}, time.Hour)
	utils.Success(ctx, payload)
}

// GetPost returns a single post with its comments ordered oldest first.
// The owner sees their own drafts and scheduled posts; everyone else gets
// NotFound for anything outside the publication window.
func (p *PostController) GetPost(ctx *gin.Context) {
	postID, ok := parseID(ctx.Param("id"))
	if !ok {
		notFoundPost(ctx)
		return
	}
	viewerID, _ := getViewer(ctx)

	// Only anonymous traffic hits the cache; an owner's view of a draft
	// must never be served to others.
	cacheKey := fmt.Sprintf("cache:posts:detail:%d", postID)
	if viewerID == 0 {
		if b, ok := utils.CacheGetBytes(cacheKey); ok {
			ctx.Data(200, "application/json", b)
			return
		}
	}

	var post models.Post
	err := p.db.Preload("Author").Preload("Category").Preload("Location").First(&post, postID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			notFoundPost(ctx)
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50029, "failed to load post")
		return
	}

	if !post.VisibleTo(viewerID, time.Now()) {
		notFoundPost(ctx)
		return
	}

	var comments []models.Comment
	err = p.db.Where("post_id = ?", post.ID).
		Preload("Author").
		Order("created_at ASC").
		Find(&comments).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to load comments")
		return
	}
	post.CommentCount = int64(len(comments))

	payload := gin.H{"post": post, "comments": comments}
	if viewerID == 0 {
		utils.CacheSetJSON(cacheKey, utils.JSONResponse{Code: 0, Message: "success", Data: payload}, time.Hour)
	}
	utils.Success(ctx, payload)
}

// CreatePost lets an authenticated user publish (or schedule) a post and
// routes them to their profile page.
func (p *PostController) CreatePost(ctx *gin.Context) {
	var req postInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}

	title := utils.SanitizePlain(strings.TrimSpace(req.Title))
	if title == "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, "title cannot be empty")
		return
	}

	if err := p.resolveRefs(&req); err != nil {
		if errors.Is(err, errUnknownCategory) || errors.Is(err, errUnknownLocation) {
			utils.Error(ctx, http.StatusBadRequest, 40022, err.Error())
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to validate references")
		return
	}

	viewerID, ok := getViewer(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	post := models.Post{
		AuthorID:    viewerID,
		CategoryID:  req.CategoryID,
		LocationID:  req.LocationID,
		Title:       title,
		Body:        utils.Sanitize(req.Body),
		IsPublished: true,
	}
	if req.IsPublished != nil {
		post.IsPublished = *req.IsPublished
	}
	if req.PubDate != nil {
		post.PubDate = *req.PubDate
	}

	if err := p.db.Create(&post).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50032, "failed to create post")
		return
	}

	username := viewerUsername(ctx)
	p.invalidatePostCaches(username, post.ID)

	ctx.Redirect(http.StatusSeeOther, "/profile/"+username)
}

// UpdatePost lets the author edit their post. Non-owners are silently
// routed to the detail page with nothing changed.
func (p *PostController) UpdatePost(ctx *gin.Context) {
	postID, ok := parseID(ctx.Param("id"))
	if !ok {
		notFoundPost(ctx)
		return
	}

	var post models.Post
	if err := p.db.First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			notFoundPost(ctx)
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50033, "failed to load post")
		return
	}

	viewerID, _ := getViewer(ctx)
	if !post.MutableBy(viewerID) {
		redirectToDetail(ctx, post.ID)
		return
	}

	var req postInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40023, "invalid request payload")
		return
	}

	title := utils.SanitizePlain(strings.TrimSpace(req.Title))
	if title == "" {
		utils.Error(ctx, http.StatusBadRequest, 40024, "title cannot be empty")
		return
	}

	if err := p.resolveRefs(&req); err != nil {
		if errors.Is(err, errUnknownCategory) || errors.Is(err, errUnknownLocation) {
			utils.Error(ctx, http.StatusBadRequest, 40025, err.Error())
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50034, "failed to validate references")
		return
	}

	post.Title = title
	post.Body = utils.Sanitize(req.Body)
	post.CategoryID = req.CategoryID
	post.LocationID = req.LocationID
	if req.PubDate != nil {
		post.PubDate = *req.PubDate
	}
	if req.IsPublished != nil {
		post.IsPublished = *req.IsPublished
	}

	if err := p.db.Save(&post).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50035, "failed to update post")
		return
	}

	p.invalidatePostCaches(viewerUsername(ctx), post.ID)
	redirectToDetail(ctx, post.ID)
}

// DeletePost removes the author's post together with its comments and
// routes to the index. Non-owners are silently routed to the detail page.
func (p *PostController) DeletePost(ctx *gin.Context) {
	postID, ok := parseID(ctx.Param("id"))
	if !ok {
		notFoundPost(ctx)
		return
	}

	var post models.Post
	if err := p.db.First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			notFoundPost(ctx)
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50036, "failed to load post")
		return
	}

	viewerID, _ := getViewer(ctx)
	if !post.MutableBy(viewerID) {
		redirectToDetail(ctx, post.ID)
		return
	}

	// Comments go with the post, in one transaction, so no orphans survive
	// a partial failure.
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&post).Error
	})
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50037, "failed to delete post")
		return
	}

	p.invalidatePostCaches(viewerUsername(ctx), post.ID)
	ctx.Redirect(http.StatusSeeOther, "/")
}

// CreateComment attaches a comment by the authenticated viewer to an
// existing post and routes back to the detail page.
func (p *PostController) CreateComment(ctx *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40026, "invalid request payload")
		return
	}

	text := utils.Sanitize(req.Text)
	if strings.TrimSpace(text) == "" {
		utils.Error(ctx, http.StatusBadRequest, 40027, "text cannot be empty")
		return
	}

	postID, ok := parseID(ctx.Param("id"))
	if !ok {
		notFoundPost(ctx)
		return
	}
	var post models.Post
	if err := p.db.First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			notFoundPost(ctx)
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50038, "failed to load post")
		return
	}

	viewerID, okViewer := getViewer(ctx)
	if !okViewer {
		utils.Error(ctx, http.StatusUnauthorized, 40111, "unauthorized")
		return
	}

	comment := models.Comment{
		PostID:   post.ID,
		AuthorID: viewerID,
		Text:     text,
	}
	if err := p.db.Create(&comment).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50039, "failed to create comment")
		return
	}

	utils.InvalidateByPrefix(fmt.Sprintf("cache:posts:detail:%d", post.ID))
	utils.InvalidateByPrefix("cache:posts:list:")
	utils.InvalidateByPrefix("cache:users:")
	redirectToDetail(ctx, post.ID)
}

// UpdateComment lets the comment's author edit it. Anyone else, including
// the post's author, is silently routed to the detail page.
func (p *PostController) UpdateComment(ctx *gin.Context) {
	commentID, ok := parseID(ctx.Param("commentId"))
	if !ok {
		utils.Error(ctx, http.StatusNotFound, 40404, "comment not found")
		return
	}

	var comment models.Comment
	if err := p.db.First(&comment, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40404, "comment not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to load comment")
		return
	}

	viewerID, _ := getViewer(ctx)
	if !comment.MutableBy(viewerID) {
		redirectToDetail(ctx, comment.PostID)
		return
	}

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40028, "invalid request payload")
		return
	}
	text := utils.Sanitize(req.Text)
	if strings.TrimSpace(text) == "" {
		utils.Error(ctx, http.StatusBadRequest, 40029, "text cannot be empty")
		return
	}

	comment.Text = text
	if err := p.db.Save(&comment).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to update comment")
		return
	}

	utils.InvalidateByPrefix(fmt.Sprintf("cache:posts:detail:%d", comment.PostID))
	redirectToDetail(ctx, comment.PostID)
}

// DeleteComment lets the comment's author remove it, with the same silent
// redirect for everyone else.
func (p *PostController) DeleteComment(ctx *gin.Context) {
	commentID, ok := parseID(ctx.Param("commentId"))
	if !ok {
		utils.Error(ctx, http.StatusNotFound, 40404, "comment not found")
		return
	}

	var comment models.Comment
	if err := p.db.First(&comment, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40404, "comment not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50042, "failed to load comment")
		return
	}

	viewerID, _ := getViewer(ctx)
	if !comment.MutableBy(viewerID) {
		redirectToDetail(ctx, comment.PostID)
		return
	}

	if err := p.db.Delete(&comment).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50043, "failed to delete comment")
		return
	}

	utils.InvalidateByPrefix(fmt.Sprintf("cache:posts:detail:%d", comment.PostID))
	utils.InvalidateByPrefix("cache:posts:list:")
	utils.InvalidateByPrefix("cache:users:")
	redirectToDetail(ctx, comment.PostID)
}

// invalidatePostCaches drops every cached view a post mutation can affect.
func (p *PostController) invalidatePostCaches(username string, postID uint) {
	utils.InvalidateByPrefix("cache:posts:list:")
	utils.InvalidateByPrefix(fmt.Sprintf("cache:posts:detail:%d", postID))
	if username != "" {
		utils.InvalidateByPrefix("cache:users:" + username + ":posts:")
	}
}
