package middleware

import (
	"context"
	"net/http"
	"strings"

	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

const accountKey = "account"

// Authenticator 把 Bearer 令牌解析为账户。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Account, error)
}

// AuthMiddleware 校验 Bearer 令牌并将已认证账户写入上下文。
//
// 签名错误、载荷畸形、已过期、账户已注销统一返回同一个 401 响应。
func AuthMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			c.Abort()
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			c.Abort()
			return
		}

		account, err := authn.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			metrics.AuthRejectedTotal.Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(accountKey, account)
		c.Next()
	}
}

// CurrentAccount 从上下文取出已认证账户，未认证时返回 nil。
func CurrentAccount(c *gin.Context) *model.Account {
	v, ok := c.Get(accountKey)
	if !ok {
		return nil
	}
	account, ok := v.(*model.Account)
	if !ok {
		return nil
	}
	return account
}
