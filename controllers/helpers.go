package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"blogium/config"
	"blogium/middleware"
	"blogium/models"
)

// getViewer returns the authenticated user id from the request context.
// A false result means the viewer is anonymous.
func getViewer(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		return uint(v), true
	case int64:
		return uint(v), true
	case float64:
		return uint(v), true
	default:
		return 0, false
	}
}

func viewerUsername(ctx *gin.Context) string {
	value, exists := ctx.Get(middleware.ContextUsernameKey)
	if !exists {
		return ""
	}
	name, _ := value.(string)
	return name
}

func isAdmin(ctx *gin.Context) bool {
	uname := viewerUsername(ctx)
	if uname == "" {
		return false
	}
	cfg := config.Get()
	for _, u := range cfg.AdminUsernames {
		if strings.EqualFold(strings.TrimSpace(u), uname) {
			return true
		}
	}
	return false
}

func parsePage(pageStr string) int {
	page := 1
	if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
		page = p
	}
	return page
}

func paginationMeta(page int, total int64) gin.H {
	return gin.H{
		"page":        page,
		"page_size":   models.PageSize,
		"total":       total,
		"total_pages": int((total + models.PageSize - 1) / models.PageSize),
	}
}

// parseID turns a path parameter into a primary key. Malformed ids resolve
// to (0, false) and callers answer NotFound, same as a missing row.
func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// redirectToDetail sends the viewer to a post's detail page. Mutation
// handlers use it both after success and after a failed ownership check,
// so a non-owner's attempt is indistinguishable from a no-op success.
func redirectToDetail(ctx *gin.Context, postID uint) {
	ctx.Redirect(http.StatusSeeOther, fmt.Sprintf("/posts/%d", postID))
}
