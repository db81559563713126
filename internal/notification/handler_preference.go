package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/notice/internal/notification/preference"
)

// handleGetPreferences は認証済みユーザーの通知設定を返すハンドラ。
// 未設定のユーザーには既定値を作成して返す。
func (s *Server) handleGetPreferences() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		p, err := s.svc.Preferences.Get(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err, "通知設定の取得")
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// handleUpdatePreferences は通知設定を部分更新するハンドラ。指定されたフィールドだけを変更する。
func (s *Server) handleUpdatePreferences() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		var patch preference.Patch
		if err := c.ShouldBindJSON(&patch); err != nil {
			respondBadJSON(c, err)
			return
		}

		p, err := s.svc.Preferences.Upsert(c.Request.Context(), userID, patch)
		if err != nil {
			respondError(c, err, "通知設定の更新")
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// handleDeletePreferences は通知設定を削除するハンドラ。以後は既定値に戻る。
func (s *Server) handleDeletePreferences() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		if err := s.svc.Preferences.Delete(c.Request.Context(), userID); err != nil {
			respondError(c, err, "通知設定の削除")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知設定を削除しました"})
	}
}
