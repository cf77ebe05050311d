package messenger

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

const (
	CodeMessageNotFound xerrors.Code = "MESSAGE_NOT_FOUND"
	CodeEmptyMessage    xerrors.Code = "EMPTY_MESSAGE"
)

func init() {
	xerrors.Register(CodeMessageNotFound, xerrors.Attributes{
		Message:  "message not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeEmptyMessage, xerrors.Attributes{
		Message:  "message content is empty",
		Severity: xerrors.SeverityInfo,
	})
}

var (
	// ErrMessageNotFound 表示指定的消息不存在。
	ErrMessageNotFound = xerrors.New(CodeMessageNotFound, "message not found")
	// ErrEmptyMessage 表示消息正文为空。
	ErrEmptyMessage = xerrors.New(CodeEmptyMessage, "message content is empty")
)

// Message 是智能体之间的一条点对点消息。StreamSeq 非零时，
// 表示这条消息随 (Sender, Recipient) 地址对的第 StreamSeq 代
// 支付流一起送达。
type Message struct {
	ID        string         `json:"id"`
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Content   string         `json:"content"`
	StreamSeq uint64         `json:"stream_seq,omitempty"`
	SentAt    int64          `json:"sent_at"`
}

// Clone 返回消息的拷贝。
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}
