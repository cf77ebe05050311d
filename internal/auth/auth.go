package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

// Mode 表示访问控制模式。
type Mode string

const (
	// ModeDisabled 关闭校验，所有请求直接放行。
	ModeDisabled Mode = "disabled"
	// ModeToken 要求请求携带静态 Bearer Token。
	ModeToken Mode = "token"
)

const (
	CodeMissingToken xerrors.Code = "AUTH_MISSING_TOKEN"
	CodeInvalidToken xerrors.Code = "AUTH_INVALID_TOKEN"
)

func init() {
	xerrors.Register(CodeMissingToken, xerrors.Attributes{
		Message:  "missing bearer token",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidToken, xerrors.Attributes{
		Message:  "invalid bearer token",
		Severity: xerrors.SeverityWarning,
	})
}

var (
	// ErrMissingToken 表示请求没有携带 Authorization 头。
	ErrMissingToken = xerrors.New(CodeMissingToken, "missing bearer token")
	// ErrInvalidToken 表示令牌不在配置的白名单里。
	ErrInvalidToken = xerrors.New(CodeInvalidToken, "invalid bearer token", xerrors.WithSeverity(xerrors.SeverityWarning))
)

// Subject 描述通过认证的调用方。
type Subject struct {
	TokenDigest string
}

// Service 实现基于静态令牌的访问控制。令牌只保存摘要，
// 比较使用常量时间算法。
type Service struct {
	mode    Mode
	digests map[[sha256.Size]byte]struct{}
}

// NewService 构造访问控制服务。mode 非法时按 disabled 处理。
func NewService(mode string, tokens []string) *Service {
	parsed := Mode(strings.ToLower(strings.TrimSpace(mode)))
	if parsed != ModeToken {
		parsed = ModeDisabled
	}

	digests := make(map[[sha256.Size]byte]struct{}, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		digests[sha256.Sum256([]byte(token))] = struct{}{}
	}
	// token 模式下令牌列表为空会拒绝一切请求，保留该行为而不是
	// 静默降级，避免配置错误被忽视。
	return &Service{mode: parsed, digests: digests}
}

// Enabled 返回是否启用了访问控制。
func (s *Service) Enabled() bool {
	return s != nil && s.mode == ModeToken
}

// AuthenticateRequest 校验 Authorization 头并返回调用方身份。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	token := strings.TrimSpace(authorization)
	if token == "" {
		return nil, ErrMissingToken
	}
	if prefix := "bearer "; len(token) > len(prefix) && strings.EqualFold(token[:len(prefix)], prefix) {
		token = strings.TrimSpace(token[len(prefix):])
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	digest := sha256.Sum256([]byte(token))
	for known := range s.digests {
		if subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
			return &Subject{TokenDigest: hexDigest(digest)}, nil
		}
	}
	return nil, ErrInvalidToken
}

// hexDigest 返回摘要前四个字节的十六进制形式，仅用于日志关联。
func hexDigest(digest [sha256.Size]byte) string {
	return hex.EncodeToString(digest[:4])
}
