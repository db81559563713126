package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/notice/internal/notification/bulk"
)

// bulkRequest は一括操作リクエストのJSON構造。
type bulkRequest struct {
	// IDs は対象の通知ID。重複は1件として扱う。
	IDs []string `json:"ids" binding:"required,max=10000"`
	// BatchSize は1チャンクの件数。0は既定値。
	BatchSize int `json:"batch_size"`
}

// affectedResponse はユーザー単位の一括操作のレスポンス。
type affectedResponse struct {
	AffectedCount int      `json:"affected_count"`
	Failed        []string `json:"failed"`
}

func toAffected(r bulk.Result) affectedResponse {
	return affectedResponse{AffectedCount: r.Succeeded, Failed: r.Failed}
}

// handleBulk はID指定の一括操作のハンドラ。一部が失敗しても200で結果を返す。
func (s *Server) handleBulk(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		var req bulkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadJSON(c, err)
			return
		}

		ctx := c.Request.Context()
		var r bulk.Result
		switch op {
		case bulk.OpMarkRead:
			r = s.svc.Bulk.MarkRead(ctx, userID, req.IDs, req.BatchSize)
		case bulk.OpMarkUnread:
			r = s.svc.Bulk.MarkUnread(ctx, userID, req.IDs, req.BatchSize)
		default:
			r = s.svc.Bulk.Delete(ctx, userID, req.IDs, req.BatchSize)
		}
		c.JSON(http.StatusOK, r)
	}
}

// handleMarkAllRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		r, err := s.svc.Bulk.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err, "全通知の既読処理")
			return
		}
		c.JSON(http.StatusOK, toAffected(r))
	}
}

// handleDeleteAll は認証済みユーザーの全通知を削除するハンドラ。
func (s *Server) handleDeleteAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		r, err := s.svc.Bulk.DeleteAll(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err, "全通知の削除")
			return
		}
		c.JSON(http.StatusOK, toAffected(r))
	}
}

// handleDeleteRead は既読の通知を削除するハンドラ。
func (s *Server) handleDeleteRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		r, err := s.svc.Bulk.DeleteRead(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err, "既読通知の削除")
			return
		}
		c.JSON(http.StatusOK, toAffected(r))
	}
}

// handleDeleteByType は指定した種別の通知を削除するハンドラ。
func (s *Server) handleDeleteByType() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		r, err := s.svc.Bulk.DeleteByType(c.Request.Context(), userID, c.Param("type"))
		if err != nil {
			respondError(c, err, "種別指定の削除")
			return
		}
		c.JSON(http.StatusOK, toAffected(r))
	}
}
