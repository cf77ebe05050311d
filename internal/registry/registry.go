package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

const (
	CodeAgentNotFound    xerrors.Code = "AGENT_NOT_FOUND"
	CodeServiceNotFound  xerrors.Code = "SERVICE_NOT_FOUND"
	CodeDuplicateService xerrors.Code = "DUPLICATE_SERVICE"
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:  "agent not registered",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeServiceNotFound, xerrors.Attributes{
		Message:  "service not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDuplicateService, xerrors.Attributes{
		Message:  "service already registered",
		Severity: xerrors.SeverityWarning,
	})
}

var (
	// ErrAgentNotFound 表示该地址尚未注册为智能体。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not registered")
	// ErrServiceNotFound 表示提供方没有发布指定服务。
	ErrServiceNotFound = xerrors.New(CodeServiceNotFound, "service not found")
	// ErrDuplicateService 表示同一提供方重复发布了同名服务。
	ErrDuplicateService = xerrors.New(CodeDuplicateService, "service already registered", xerrors.WithSeverity(xerrors.SeverityWarning))
)

// Agent 描述一个已注册的链上智能体。地址是唯一身份，
// Name 与 Endpoint 仅作展示和寻址用途。
type Agent struct {
	Address      common.Address `json:"address"`
	Name         string         `json:"name,omitempty"`
	Endpoint     string         `json:"endpoint,omitempty"`
	RegisteredAt int64          `json:"registered_at"`
	UpdatedAt    int64          `json:"updated_at"`
}

// Clone 返回记录的深拷贝。
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// NormalizeServiceName 规整服务名，注册与查询必须走同一条路径。
func NormalizeServiceName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
