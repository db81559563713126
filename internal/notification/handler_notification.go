package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/notice/internal/notification/feed"
	"github.com/nao1215/notice/pkg/zlog"
)

// handleList はフィードを絞り込み条件とカーソルで1ページ返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		from, err := queryTime(c, "date_from", false)
		if err != nil {
			respondError(c, err, "")
			return
		}
		to, err := queryTime(c, "date_to", true)
		if err != nil {
			respondError(c, err, "")
			return
		}
		limit, err := queryInt(c, "limit")
		if err != nil {
			respondError(c, err, "")
			return
		}

		f := feed.Filter{
			Search:   c.Query("search"),
			Types:    queryList(c, "types"),
			Status:   c.Query("status"),
			DateFrom: from,
			DateTo:   to,
			SortBy:   c.Query("sort_by"),
		}
		page, err := s.svc.Feed.Query(c.Request.Context(), userID, f, c.Query("cursor"), limit)
		if err != nil {
			respondError(c, err, "通知一覧の取得")
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// handleRecent は新しい順の直近の通知を返すハンドラ。カーソルは返さない。
func (s *Server) handleRecent() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		limit, err := queryInt(c, "limit")
		if err != nil {
			respondError(c, err, "")
			return
		}
		items, err := s.svc.Feed.Recent(c.Request.Context(), userID, limit)
		if err != nil {
			respondError(c, err, "直近の通知の取得")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// handleUnreadCount は未読件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		n, err := s.svc.Queries.CountUnread(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err, "未読件数の取得")
			return
		}
		c.JSON(http.StatusOK, gin.H{"unread_count": n})
	}
}

// handleStats は直近days日間の集計を返すハンドラ。
func (s *Server) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		days, err := queryInt(c, "days")
		if err != nil {
			respondError(c, err, "")
			return
		}
		report, err := s.svc.Analytics.Stats(c.Request.Context(), userID, days)
		if err != nil {
			respondError(c, err, "通知の集計")
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// handleSetRead は指定された通知の既読状態を変更するハンドラ。
// 他のユーザーの通知は存在しないものとして404を返す。
func (s *Server) handleSetRead(read bool) gin.HandlerFunc {
	msg := "通知を既読にしました"
	if !read {
		msg = "通知を未読にしました"
	}
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		if err := s.svc.Queries.SetRead(c.Request.Context(), userID, c.Param("id"), read); err != nil {
			respondError(c, err, "既読状態の変更")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})
	}
}

// handleDelete は指定された通知を削除するハンドラ。ダイジェスト待ちのエントリも取り除く。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		id := c.Param("id")
		if err := s.svc.Queries.DeleteNotification(c.Request.Context(), userID, id); err != nil {
			respondError(c, err, "通知の削除")
			return
		}
		if s.svc.Digests != nil {
			if err := s.svc.Digests.Remove(c.Request.Context(), userID, []string{id}); err != nil {
				zlog.Warn("ダイジェストからの削除に失敗しました",
					zap.String("user_id", userID), zap.String("notification_id", id), zap.Error(err))
			}
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を削除しました"})
	}
}
