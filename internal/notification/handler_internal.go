package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/notice/internal/notification/delivery"
)

// handleIntake は上流から通知を受け付けて保存し、配信判定に通すハンドラ。
// 内部API（イベントのプロデューサーから呼び出される）。
func (s *Server) handleIntake() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req delivery.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadJSON(c, err)
			return
		}

		res, err := s.svc.Delivery.Submit(c.Request.Context(), req)
		if err != nil {
			respondError(c, err, "通知の受け付け")
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}
