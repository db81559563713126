package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// contextKeyUserID はGinコンテキストにユーザーIDを格納するキー。
const contextKeyUserID = "user_id"

// HeaderUserID は上流ゲートウェイが認証済みユーザーIDを伝播するHTTPヘッダー。
const HeaderUserID = "X-User-ID"

// tokenIssuer は発行するJWTのissuer。
const tokenIssuer = "notice"

// Claims は通知APIが受け付けるJWTのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
}

// IssueToken はユーザーIDを埋め込んだHS256署名のJWTを発行する。
// 開発環境やテストでAPIを呼び出すためのトークン生成に使う。
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はBearerトークンを検証し、クレームのユーザーIDをコンテキストに設定する。
// HMAC以外の署名方式とユーザーIDが空のトークンは拒否する。
func JWTAuth(secret string) gin.HandlerFunc {
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("想定外の署名方式: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}

	return func(c *gin.Context) {
		tokenString, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || tokenString == "" {
			abortUnauthorized(c, "Bearerトークンが必要です")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
		if err != nil || !token.Valid {
			abortUnauthorized(c, "トークンが無効です")
			return
		}
		if claims.UserID == "" {
			abortUnauthorized(c, "トークンにユーザーIDが含まれていません")
			return
		}

		SetUserID(c, claims.UserID)
		c.Next()
	}
}

// TrustedHeader は上流で認証済みのユーザーIDをヘッダーから取り出すミドルウェアを返す。
// ゲートウェイの背後でのみ有効にすること。
func TrustedHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			abortUnauthorized(c, HeaderUserID+"ヘッダーが必要です")
			return
		}
		SetUserID(c, userID)
		c.Next()
	}
}

// StaticToken は固定のBearerトークンを要求するミドルウェアを返す。
// サービス間の内部APIに使う。
func StaticToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || token == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			abortUnauthorized(c, "トークンが無効です")
			return
		}
		c.Next()
	}
}

// SetUserID はGinコンテキストにユーザーIDを設定する。
func SetUserID(c *gin.Context, userID string) {
	c.Set(contextKeyUserID, userID)
}

// GetUserID はGinコンテキストからユーザーIDを取得する。未設定の場合は空文字列を返す。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
