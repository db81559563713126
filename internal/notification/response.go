package notification

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/notice/internal/notification/domain"
	"github.com/nao1215/notice/pkg/middleware"
	"github.com/nao1215/notice/pkg/zlog"
)

// requireUser は認証済みユーザーIDを返す。取得できなければ401を返してfalse。
func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return "", false
	}
	return userID, true
}

// respondError はエラーの種類に応じたステータスでエラーを返す。
// actionは「通知一覧の取得」のような処理名で、500の場合のメッセージに使う。
func respondError(c *gin.Context, err error, action string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrNotFound.Error()})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": domain.ErrConflict.Error()})
	default:
		_ = c.Error(err)
		zlog.Error(action+"に失敗しました",
			zap.String("user_id", middleware.GetUserID(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": action + "に失敗しました"})
	}
}

// respondBadJSON はリクエストボディのデコード失敗を400で返す。
func respondBadJSON(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
}

// queryInt は整数のクエリパラメータを返す。未指定なら0。
func queryInt(c *gin.Context, name string) (int, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.Invalid(name, "整数を指定してください")
	}
	return n, nil
}

// queryTime は日時のクエリパラメータを返す。RFC 3339か YYYY-MM-DD を受け付ける。
// endOfDayが真で日付のみが指定された場合は、その日の終わりを返す。
func queryTime(c *gin.Context, name string, endOfDay bool) (*time.Time, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, domain.Invalid(name, "RFC 3339 または YYYY-MM-DD 形式で指定してください")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// queryList はカンマ区切りのクエリパラメータを返す。同名パラメータの繰り返しも受け付ける。
func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, v := range c.QueryArray(name) {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
