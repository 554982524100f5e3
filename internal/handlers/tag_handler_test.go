package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
	"fintrack/internal/pagination"
	"fintrack/internal/services"
)

const testTagID = "0190a0f2-7a6b-7c3d-8e4f-0000000000d1"

type mockTagService struct {
	createTagFn   func(userID, name string) (*models.Tag, error)
	getUserTagsFn func(userID string, page pagination.PageRequest) (*pagination.PageResponse[models.Tag], error)
	getTagByIDFn  func(userID, tagID string) (*models.Tag, error)
	deleteTagFn   func(userID, tagID string) error
}

var _ services.TagServicer = (*mockTagService)(nil)

func (m *mockTagService) CreateTag(_ context.Context, userID, name string) (*models.Tag, error) {
	if m.createTagFn != nil {
		return m.createTagFn(userID, name)
	}
	return &models.Tag{Base: models.Base{ID: testTagID}, UserID: userID, Name: name}, nil
}

func (m *mockTagService) GetUserTags(_ context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.Tag], error) {
	if m.getUserTagsFn != nil {
		return m.getUserTagsFn(userID, page)
	}
	resp := pagination.NewPageResponse([]models.Tag{}, 1, 20, 0)
	return &resp, nil
}

func (m *mockTagService) GetTagByID(_ context.Context, userID, tagID string) (*models.Tag, error) {
	if m.getTagByIDFn != nil {
		return m.getTagByIDFn(userID, tagID)
	}
	return &models.Tag{Base: models.Base{ID: tagID}, UserID: userID}, nil
}

func (m *mockTagService) DeleteTag(_ context.Context, userID, tagID string) error {
	if m.deleteTagFn != nil {
		return m.deleteTagFn(userID, tagID)
	}
	return nil
}

func setupTagRouter(handler *TagHandler) *gin.Engine {
	r := gin.New()
	auth := r.Group("", injectUserID(testUserID))
	auth.POST("/tags", handler.CreateTag)
	auth.GET("/tags", handler.GetUserTags)
	auth.GET("/tags/:id", handler.GetTag)
	auth.DELETE("/tags/:id", handler.DeleteTag)
	return r
}

func TestTagHandler(t *testing.T) {
	t.Run("create returns 201", func(t *testing.T) {
		r := setupTagRouter(NewTagHandler(&mockTagService{}, &mockAuditService{}))

		rec := doRequest(r, "POST", "/tags", `{"name":"travel"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		tag := parseJSON(t, rec)["tag"].(map[string]interface{})
		if tag["name"] != "travel" {
			t.Errorf("expected travel, got %v", tag["name"])
		}
	})

	t.Run("create returns 400 without name", func(t *testing.T) {
		r := setupTagRouter(NewTagHandler(&mockTagService{}, &mockAuditService{}))

		rec := doRequest(r, "POST", "/tags", `{}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("create returns 409 on duplicate", func(t *testing.T) {
		svc := &mockTagService{
			createTagFn: func(_, _ string) (*models.Tag, error) { return nil, apperrors.ErrDuplicateTag },
		}
		r := setupTagRouter(NewTagHandler(svc, &mockAuditService{}))

		rec := doRequest(r, "POST", "/tags", `{"name":"travel"}`)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("list returns a page", func(t *testing.T) {
		svc := &mockTagService{
			getUserTagsFn: func(_ string, page pagination.PageRequest) (*pagination.PageResponse[models.Tag], error) {
				if page.Page != 2 {
					t.Errorf("expected page 2, got %d", page.Page)
				}
				resp := pagination.NewPageResponse([]models.Tag{{Name: "a"}}, 2, 20, 21)
				return &resp, nil
			},
		}
		r := setupTagRouter(NewTagHandler(svc, &mockAuditService{}))

		rec := doRequest(r, "GET", "/tags?page=2", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("get returns 404 for another user's tag", func(t *testing.T) {
		svc := &mockTagService{
			getTagByIDFn: func(_, _ string) (*models.Tag, error) { return nil, apperrors.ErrTagNotFound },
		}
		r := setupTagRouter(NewTagHandler(svc, &mockAuditService{}))

		rec := doRequest(r, "GET", "/tags/"+testTagID, "")

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("delete returns 200 and audits", func(t *testing.T) {
		var deleted string
		svc := &mockTagService{
			deleteTagFn: func(_, id string) error {
				deleted = id
				return nil
			},
		}
		audit := &mockAuditService{}
		r := setupTagRouter(NewTagHandler(svc, audit))

		rec := doRequest(r, "DELETE", "/tags/"+testTagID, "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if deleted != testTagID {
			t.Errorf("expected %s deleted, got %q", testTagID, deleted)
		}
		if a := audit.actions(); len(a) != 1 || a[0] != "DELETE_TAG" {
			t.Errorf("expected DELETE_TAG audit, got %v", a)
		}
	})
}
