package auth

import (
	"context"
	"errors"
	"log/slog"

	"taskhub/internal/model"
)

// ErrInvalidCredentials 表示登录失败。
//
// 用户名不存在与密码错误返回完全相同的结果，不暴露账户是否存在。
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountSource 提供认证所需的账户查询。
type AccountSource interface {
	AccountByUsername(ctx context.Context, username string) (*model.Account, error)
	AccountByID(ctx context.Context, id uint) (*model.Account, error)
}

// Authenticator 负责登录与每请求的身份解析。
type Authenticator struct {
	accounts AccountSource
	tokens   *TokenIssuer
	logger   *slog.Logger
}

// NewAuthenticator 创建 Authenticator。
func NewAuthenticator(accounts AccountSource, tokens *TokenIssuer, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		accounts: accounts,
		tokens:   tokens,
		logger:   logger,
	}
}

// Login 校验用户名和密码，成功时签发访问令牌。
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, error) {
	account, err := a.accounts.AccountByUsername(ctx, username)
	if err != nil {
		// 用户名不存在时执行一次等价开销的哈希校验，
		// 使两种失败路径的耗时一致
		VerifyPassword(password, dummyHash)
		return "", ErrInvalidCredentials
	}
	if !VerifyPassword(password, account.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	return a.tokens.Issue(account.ID)
}

// Authenticate 解析令牌并加载对应账户。
//
// 账户已不存在时与非法令牌同样处理，关闭令牌比其主体活得更久的窗口。
func (a *Authenticator) Authenticate(ctx context.Context, tokenStr string) (*model.Account, error) {
	id, err := a.tokens.Validate(tokenStr)
	if err != nil {
		return nil, ErrInvalidToken
	}
	account, err := a.accounts.AccountByID(ctx, id)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return account, nil
}
