package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"blogium/models"
	"blogium/utils"
)

// TaxonomyController manages categories and locations. Creation is limited
// to configured admin usernames; the original system managed these through
// a separate admin surface.
type TaxonomyController struct {
	db *gorm.DB
}

// NewTaxonomyController creates a new TaxonomyController instance.
func NewTaxonomyController(db *gorm.DB) *TaxonomyController {
	return &TaxonomyController{db: db}
}

// ListCategories returns published categories.
func (t *TaxonomyController) ListCategories(ctx *gin.Context) {
	var categories []models.Category
	if err := t.db.Where("is_published = ?", true).Order("title ASC").Find(&categories).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50050, "failed to list categories")
		return
	}
	utils.Success(ctx, gin.H{"items": categories})
}

// CreateCategory adds a category (admin only).
func (t *TaxonomyController) CreateCategory(ctx *gin.Context) {
	if !isAdmin(ctx) {
		utils.Error(ctx, http.StatusForbidden, 40350, "admin access required")
		return
	}

	var req struct {
		Title       string `json:"title" binding:"required,min=1"`
		Slug        string `json:"slug" binding:"required,min=1,max=64"`
		Description string `json:"description"`
		IsPublished *bool  `json:"is_published"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40050, "invalid request payload")
		return
	}

	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	var existing int64
	if err := t.db.Model(&models.Category{}).Where("slug = ?", slug).Count(&existing).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50051, "failed to check slug")
		return
	}
	if existing > 0 {
		utils.Error(ctx, http.StatusConflict, 40950, "slug already exists")
		return
	}

	category := models.Category{
		Title:       utils.SanitizePlain(strings.TrimSpace(req.Title)),
		Slug:        slug,
		Description: utils.Sanitize(req.Description),
		IsPublished: true,
	}
	if req.IsPublished != nil {
		category.IsPublished = *req.IsPublished
	}

	if err := t.db.Create(&category).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50052, "failed to create category")
		return
	}

	utils.InvalidateByPrefix("cache:posts:list:")
	utils.Success(ctx, gin.H{"category": category})
}

// ListLocations returns published locations.
func (t *TaxonomyController) ListLocations(ctx *gin.Context) {
	var locations []models.Location
	if err := t.db.Where("is_published = ?", true).Order("name ASC").Find(&locations).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50053, "failed to list locations")
		return
	}
	utils.Success(ctx, gin.H{"items": locations})
}

// CreateLocation adds a location (admin only).
func (t *TaxonomyController) CreateLocation(ctx *gin.Context) {
	if !isAdmin(ctx) {
		utils.Error(ctx, http.StatusForbidden, 40351, "admin access required")
		return
	}

	var req struct {
		Name        string `json:"name" binding:"required,min=1"`
		IsPublished *bool  `json:"is_published"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40051, "invalid request payload")
		return
	}

	location := models.Location{
		Name:        utils.SanitizePlain(strings.TrimSpace(req.Name)),
		IsPublished: true,
	}
	if req.IsPublished != nil {
		location.IsPublished = *req.IsPublished
	}

	if err := t.db.Create(&location).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50054, "failed to create location")
		return
	}

	utils.Success(ctx, gin.H{"location": location})
}
