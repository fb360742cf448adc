package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"blogium/models"
	"blogium/utils"
)

func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("GIN_MODE", "test")
	t.Setenv("GIN_PATH", filepath.Join(t.TempDir(), "gin_access.log"))
	t.Setenv("RATE_LIMIT_PER_MINUTE", "6000")
	t.Setenv("ADMIN_USERNAMES", "root")

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(&models.User{}, &models.Category{}, &models.Location{}, &models.Post{}, &models.Comment{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return SetupRouter(db), db
}

func seedUser(t *testing.T, db *gorm.DB, username string) models.User {
	t.Helper()
	hash, err := utils.HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := models.User{Username: username, PasswordHash: hash}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func tokenFor(t *testing.T, user models.User) string {
	t.Helper()
	token, err := utils.GenerateToken(user.ID, user.Username, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

func doRequest(r *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}

type listData struct {
	Items []struct {
		ID           uint   `json:"id"`
		Title        string `json:"title"`
		CommentCount int64  `json:"comment_count"`
	} `json:"items"`
	Pagination struct {
		Page     int   `json:"page"`
		PageSize int   `json:"page_size"`
		Total    int64 `json:"total"`
	} `json:"pagination"`
}

func seedPost(t *testing.T, db *gorm.DB, p models.Post) models.Post {
	t.Helper()
	if p.Body == "" {
		p.Body = "body"
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create post %q: %v", p.Title, err)
	}
	return p
}

func TestIndexListingExcludesInvisiblePosts(t *testing.T) {
	r, db := newTestServer(t)
	now := time.Now()
	alice := seedUser(t, db, "alice")

	published := models.Category{Title: "Tech", Slug: "tech", IsPublished: true}
	hidden := models.Category{Title: "Drafts", Slug: "drafts", IsPublished: false}
	db.Create(&published)
	db.Create(&hidden)

	visible := seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "visible", IsPublished: true, PubDate: now.Add(-time.Hour), CategoryID: &published.ID})
	seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "draft", IsPublished: false, PubDate: now.Add(-time.Hour)})
	seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "scheduled", IsPublished: true, PubDate: now.Add(time.Hour)})
	seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "hidden category", IsPublished: true, PubDate: now.Add(-time.Hour), CategoryID: &hidden.ID})

	db.Create(&models.Comment{PostID: visible.ID, AuthorID: alice.ID, Text: "one"})
	db.Create(&models.Comment{PostID: visible.ID, AuthorID: alice.ID, Text: "two"})

	w := doRequest(r, http.MethodGet, "/api/v1/posts", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var data listData
	decodeData(t, w, &data)

	if len(data.Items) != 1 {
		t.Fatalf("got %d items, want 1: %s", len(data.Items), w.Body.String())
	}
	if data.Items[0].Title != "visible" {
		t.Fatalf("unexpected item %q", data.Items[0].Title)
	}
	if data.Items[0].CommentCount != 2 {
		t.Fatalf("comment_count = %d, want 2", data.Items[0].CommentCount)
	}
	if data.Pagination.PageSize != models.PageSize {
		t.Fatalf("page_size = %d, want %d", data.Pagination.PageSize, models.PageSize)
	}
}

func TestCategoryListing(t *testing.T) {
	r, db := newTestServer(t)
	now := time.Now()
	alice := seedUser(t, db, "alice")

	tech := models.Category{Title: "Tech", Slug: "tech", IsPublished: true}
	drafts := models.Category{Title: "Drafts", Slug: "drafts", IsPublished: false}
	db.Create(&tech)
	db.Create(&drafts)

	seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "in tech", IsPublished: true, PubDate: now.Add(-time.Hour), CategoryID: &tech.ID})
	seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "no category", IsPublished: true, PubDate: now.Add(-time.Hour)})

	w := doRequest(r, http.MethodGet, "/api/v1/categories/tech/posts", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var data listData
	decodeData(t, w, &data)
	if len(data.Items) != 1 || data.Items[0].Title != "in tech" {
		t.Fatalf("unexpected items: %s", w.Body.String())
	}

	// Unpublished category slug is indistinguishable from a missing one.
	if w := doRequest(r, http.MethodGet, "/api/v1/categories/drafts/posts", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unpublished category: status %d, want 404", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/v1/categories/nope/posts", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing category: status %d, want 404", w.Code)
	}
}

func TestProfileListingIncludesDrafts(t *testing.T) {
	r, db := newTestServer(t)
	now := time.Now()
	alice := seedUser(t, db, "alice")

	seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "public", IsPublished: true, PubDate: now.Add(-time.Hour)})
	seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "draft", IsPublished: false, PubDate: now.Add(-time.Hour)})
	seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "scheduled", IsPublished: true, PubDate: now.Add(time.Hour)})

	w := doRequest(r, http.MethodGet, "/api/v1/users/alice/posts", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var data listData
	decodeData(t, w, &data)
	if len(data.Items) != 3 {
		t.Fatalf("got %d items, want 3 (drafts and scheduled posts included)", len(data.Items))
	}

	if w := doRequest(r, http.MethodGet, "/api/v1/users/nobody/posts", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing user: status %d, want 404", w.Code)
	}
}

func TestPostDetailVisibility(t *testing.T) {
	r, db := newTestServer(t)
	now := time.Now()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	public := seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "public", IsPublished: true, PubDate: now.Add(-24 * time.Hour)})
	draft := seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "draft", IsPublished: false, PubDate: now.Add(-time.Hour)})

	db.Create(&models.Comment{PostID: public.ID, AuthorID: bob.ID, Text: "first", CreatedAt: now.Add(-2 * time.Hour)})
	db.Create(&models.Comment{PostID: public.ID, AuthorID: alice.ID, Text: "second", CreatedAt: now.Add(-time.Hour)})

	// Anonymous viewer, published post: detail with comments oldest first.
	w := doRequest(r, http.MethodGet, fmt.Sprintf("/api/v1/posts/%d", public.ID), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var detail struct {
		Post struct {
			ID uint `json:"id"`
		} `json:"post"`
		Comments []struct {
			Text string `json:"text"`
		} `json:"comments"`
	}
	decodeData(t, w, &detail)
	if detail.Post.ID != public.ID {
		t.Fatalf("wrong post id %d", detail.Post.ID)
	}
	if len(detail.Comments) != 2 || detail.Comments[0].Text != "first" || detail.Comments[1].Text != "second" {
		t.Fatalf("comments not oldest-first: %s", w.Body.String())
	}

	draftPath := fmt.Sprintf("/api/v1/posts/%d", draft.ID)

	// Anonymous and non-owner viewers get the same NotFound as a missing id.
	if w := doRequest(r, http.MethodGet, draftPath, "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("anonymous draft detail: status %d, want 404", w.Code)
	}
	if w := doRequest(r, http.MethodGet, draftPath, "", tokenFor(t, bob)); w.Code != http.StatusNotFound {
		t.Fatalf("non-owner draft detail: status %d, want 404", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/v1/posts/9999", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing post: status %d, want 404", w.Code)
	}

	// Owner override.
	if w := doRequest(r, http.MethodGet, draftPath, "", tokenFor(t, alice)); w.Code != http.StatusOK {
		t.Fatalf("owner draft detail: status %d, want 200", w.Code)
	}
}

func TestCreatePost(t *testing.T) {
	r, db := newTestServer(t)
	alice := seedUser(t, db, "alice")

	if w := doRequest(r, http.MethodPost, "/api/v1/posts", `{"title":"t","body":"b"}`, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create: status %d, want 401", w.Code)
	}

	w := doRequest(r, http.MethodPost, "/api/v1/posts", `{"title":"hello","body":"world"}`, tokenFor(t, alice))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status %d, want 303 (%s)", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/profile/alice" {
		t.Fatalf("redirect to %q, want /profile/alice", loc)
	}

	var post models.Post
	if err := db.Where("title = ?", "hello").First(&post).Error; err != nil {
		t.Fatalf("post not persisted: %v", err)
	}
	if post.AuthorID != alice.ID {
		t.Fatalf("author %d, want %d", post.AuthorID, alice.ID)
	}
	if post.PubDate.IsZero() {
		t.Fatal("pub date not defaulted")
	}
}

func TestCreateScheduledPostStaysOffIndex(t *testing.T) {
	r, db := newTestServer(t)
	alice := seedUser(t, db, "alice")

	future := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	body := fmt.Sprintf(`{"title":"later","body":"b","pub_date":%q}`, future)
	if w := doRequest(r, http.MethodPost, "/api/v1/posts", body, tokenFor(t, alice)); w.Code != http.StatusSeeOther {
		t.Fatalf("status %d, want 303", w.Code)
	}

	w := doRequest(r, http.MethodGet, "/api/v1/posts", "", "")
	var data listData
	decodeData(t, w, &data)
	if len(data.Items) != 0 {
		t.Fatalf("scheduled post leaked into index: %s", w.Body.String())
	}
}

func TestUpdatePostGuard(t *testing.T) {
	r, db := newTestServer(t)
	now := time.Now()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	post := seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "original", IsPublished: true, PubDate: now.Add(-time.Hour)})
	path := fmt.Sprintf("/api/v1/posts/%d", post.ID)
	detail := fmt.Sprintf("/posts/%d", post.ID)

	// Non-owner: silent redirect to detail, nothing changed.
	w := doRequest(r, http.MethodPut, path, `{"title":"hijacked","body":"b"}`, tokenFor(t, bob))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != detail {
		t.Fatalf("non-owner update: status %d location %q", w.Code, w.Header().Get("Location"))
	}
	var check models.Post
	db.First(&check, post.ID)
	if check.Title != "original" {
		t.Fatalf("non-owner mutated the post: %q", check.Title)
	}

	// Owner: update persists, redirect to detail.
	w = doRequest(r, http.MethodPut, path, `{"title":"edited","body":"b2"}`, tokenFor(t, alice))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != detail {
		t.Fatalf("owner update: status %d location %q", w.Code, w.Header().Get("Location"))
	}
	db.First(&check, post.ID)
	if check.Title != "edited" {
		t.Fatalf("owner update not persisted: %q", check.Title)
	}
}

func TestDeletePostCascadesComments(t *testing.T) {
	r, db := newTestServer(t)
	now := time.Now()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	post := seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "doomed", IsPublished: true, PubDate: now.Add(-time.Hour)})
	db.Create(&models.Comment{PostID: post.ID, AuthorID: bob.ID, Text: "c1"})
	db.Create(&models.Comment{PostID: post.ID, AuthorID: alice.ID, Text: "c2"})

	path := fmt.Sprintf("/api/v1/posts/%d", post.ID)

	// Non-owner delete: silent redirect, post survives.
	w := doRequest(r, http.MethodDelete, path, "", tokenFor(t, bob))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("non-owner delete: status %d", w.Code)
	}
	var count int64
	db.Model(&models.Post{}).Where("id = ?", post.ID).Count(&count)
	if count != 1 {
		t.Fatal("non-owner deleted the post")
	}

	// Owner delete: post and comments gone, redirect to index.
	w = doRequest(r, http.MethodDelete, path, "", tokenFor(t, alice))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Fatalf("owner delete: status %d location %q", w.Code, w.Header().Get("Location"))
	}
	db.Model(&models.Post{}).Where("id = ?", post.ID).Count(&count)
	if count != 0 {
		t.Fatal("post survived owner delete")
	}
	db.Model(&models.Comment{}).Where("post_id = ?", post.ID).Count(&count)
	if count != 0 {
		t.Fatalf("%d orphaned comments left behind", count)
	}
}

func TestCreateComment(t *testing.T) {
	r, db := newTestServer(t)
	now := time.Now()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	post := seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "p", IsPublished: true, PubDate: now.Add(-time.Hour)})

	w := doRequest(r, http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/comments", post.ID), `{"text":"nice"}`, tokenFor(t, bob))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != fmt.Sprintf("/posts/%d", post.ID) {
		t.Fatalf("status %d location %q", w.Code, w.Header().Get("Location"))
	}
	var comment models.Comment
	if err := db.Where("post_id = ?", post.ID).First(&comment).Error; err != nil {
		t.Fatalf("comment not persisted: %v", err)
	}
	if comment.AuthorID != bob.ID {
		t.Fatalf("comment author %d, want %d", comment.AuthorID, bob.ID)
	}

	// Nonexistent post: NotFound and nothing created.
	w = doRequest(r, http.MethodPost, "/api/v1/posts/9999/comments", `{"text":"ghost"}`, tokenFor(t, bob))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing post: status %d, want 404", w.Code)
	}
	var count int64
	db.Model(&models.Comment{}).Where("text = ?", "ghost").Count(&count)
	if count != 0 {
		t.Fatal("comment created against missing post")
	}
}

func TestCommentMutationGuard(t *testing.T) {
	r, db := newTestServer(t)
	now := time.Now()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	post := seedPost(t, db, models.Post{AuthorID: alice.ID, Title: "p", IsPublished: true, PubDate: now.Add(-time.Hour)})
	comment := models.Comment{PostID: post.ID, AuthorID: bob.ID, Text: "mine"}
	db.Create(&comment)

	path := fmt.Sprintf("/api/v1/comments/%d", comment.ID)
	detail := fmt.Sprintf("/posts/%d", post.ID)

	// The post's author is still not the comment's author.
	w := doRequest(r, http.MethodPut, path, `{"text":"stolen"}`, tokenFor(t, alice))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != detail {
		t.Fatalf("non-author update: status %d location %q", w.Code, w.Header().Get("Location"))
	}
	var check models.Comment
	db.First(&check, comment.ID)
	if check.Text != "mine" {
		t.Fatalf("non-author mutated comment: %q", check.Text)
	}

	w = doRequest(r, http.MethodDelete, path, "", tokenFor(t, alice))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("non-author delete: status %d", w.Code)
	}
	var count int64
	db.Model(&models.Comment{}).Where("id = ?", comment.ID).Count(&count)
	if count != 1 {
		t.Fatal("non-author deleted comment")
	}

	// Author edits then deletes their own comment.
	w = doRequest(r, http.MethodPut, path, `{"text":"edited"}`, tokenFor(t, bob))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("author update: status %d", w.Code)
	}
	db.First(&check, comment.ID)
	if check.Text != "edited" {
		t.Fatalf("author edit not persisted: %q", check.Text)
	}
	w = doRequest(r, http.MethodDelete, path, "", tokenFor(t, bob))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("author delete: status %d", w.Code)
	}
	db.Model(&models.Comment{}).Where("id = ?", comment.ID).Count(&count)
	if count != 0 {
		t.Fatal("author delete did not remove comment")
	}
}

func TestRegisterLoginMe(t *testing.T) {
	r, _ := newTestServer(t)

	w := doRequest(r, http.MethodPost, "/api/v1/auth/register", `{"username":"carol","password":"secret123"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register: status %d (%s)", w.Code, w.Body.String())
	}
	var reg struct {
		Token string `json:"token"`
	}
	decodeData(t, w, &reg)
	if reg.Token == "" {
		t.Fatal("no token issued")
	}

	if w := doRequest(r, http.MethodPost, "/api/v1/auth/register", `{"username":"carol","password":"secret123"}`, ""); w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: status %d, want 409", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/v1/auth/login", `{"username":"carol","password":"wrong"}`, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d, want 401", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/v1/auth/login", `{"username":"carol","password":"secret123"}`, ""); w.Code != http.StatusOK {
		t.Fatalf("login: status %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/v1/auth/me", "", reg.Token); w.Code != http.StatusOK {
		t.Fatalf("me: status %d", w.Code)
	}
}

func TestUpdateOwnProfile(t *testing.T) {
	r, db := newTestServer(t)
	alice := seedUser(t, db, "alice")

	w := doRequest(r, http.MethodPatch, "/api/v1/auth/profile", `{"bio":"hello there"}`, tokenFor(t, alice))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/profile/alice" {
		t.Fatalf("status %d location %q", w.Code, w.Header().Get("Location"))
	}
	var check models.User
	db.First(&check, alice.ID)
	if check.Bio != "hello there" {
		t.Fatalf("bio not updated: %q", check.Bio)
	}

	if w := doRequest(r, http.MethodPatch, "/api/v1/auth/profile", `{"bio":"x"}`, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous profile update: status %d, want 401", w.Code)
	}
}

func TestTaxonomyAdminGate(t *testing.T) {
	r, db := newTestServer(t)
	alice := seedUser(t, db, "alice")
	root := seedUser(t, db, "root")

	body := `{"title":"Tech","slug":"tech"}`
	if w := doRequest(r, http.MethodPost, "/api/v1/categories", body, tokenFor(t, alice)); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin create category: status %d, want 403", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/v1/categories", body, tokenFor(t, root)); w.Code != http.StatusOK {
		t.Fatalf("admin create category: status %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/v1/categories", body, tokenFor(t, root)); w.Code != http.StatusConflict {
		t.Fatalf("duplicate slug: status %d, want 409", w.Code)
	}

	if w := doRequest(r, http.MethodPost, "/api/v1/locations", `{"name":"Berlin"}`, tokenFor(t, root)); w.Code != http.StatusOK {
		t.Fatalf("admin create location: status %d", w.Code)
	}

	w := doRequest(r, http.MethodGet, "/api/v1/categories", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list categories: status %d", w.Code)
	}
}
