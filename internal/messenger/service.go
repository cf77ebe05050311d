package messenger

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "github.com/nikdmello/swift/internal/errors"
	"github.com/nikdmello/swift/internal/registry"
	"github.com/nikdmello/swift/internal/stream"
	"github.com/nikdmello/swift/pkg/logger"
)

// Service 负责智能体之间的消息投递。消息可以单独发送，也可以
// 与支付流捆绑：先开流、再落库，流开不起来消息不会送达。
type Service struct {
	store   Store
	agents  *registry.Service
	streams *stream.Service
}

// NewService 构造消息服务。agents 为 nil 时跳过注册校验。
func NewService(store Store, agents *registry.Service, streams *stream.Service) *Service {
	return &Service{store: store, agents: agents, streams: streams}
}

// SendMessage 投递一条普通消息。收件人必须是已注册的智能体。
func (s *Service) SendMessage(ctx context.Context, sender, recipient common.Address, content string, now int64) (*Message, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "消息服务未初始化")
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.checkRecipient(ctx, recipient); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		SentAt:    now,
	}
	if err := s.store.Put(ctx, msg); err != nil {
		return nil, err
	}
	logger.Audit().Info("消息已送达",
		slog.String("id", msg.ID),
		slog.String("sender", sender.Hex()),
		slog.String("recipient", recipient.Hex()),
	)
	return msg, nil
}

// SendMessageWithStream 在一次调用里完成开流与消息投递。
// 流先于消息创建，开流失败时整个操作失败，消息不会落库。
func (s *Service) SendMessageWithStream(ctx context.Context, sender, recipient common.Address, content string, total *big.Int, duration, now int64) (*Message, *stream.Stream, error) {
	if s.store == nil || s.streams == nil {
		return nil, nil, xerrors.New(xerrors.CodeInitializationFailure, "消息服务未初始化")
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil, ErrEmptyMessage
	}
	if err := s.checkRecipient(ctx, recipient); err != nil {
		return nil, nil, err
	}

	opened, err := s.streams.Open(ctx, sender, recipient, total, duration, now)
	if err != nil {
		return nil, nil, err
	}

	msg := &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		StreamSeq: opened.Seq,
		SentAt:    now,
	}
	if err := s.store.Put(ctx, msg); err != nil {
		// 流已经开启且资金已托管，消息落库失败只记录告警，
		// 调用方可以凭流记录重发。
		logger.L().Warn("随流消息落库失败",
			slog.String("sender", sender.Hex()),
			slog.String("recipient", recipient.Hex()),
			slog.Uint64("stream_seq", opened.Seq),
			slog.Any("error", err),
		)
		return nil, opened, err
	}
	logger.Audit().Info("随流消息已送达",
		slog.String("id", msg.ID),
		slog.String("sender", sender.Hex()),
		slog.String("recipient", recipient.Hex()),
		slog.Uint64("stream_seq", opened.Seq),
		slog.String("deposited", opened.Deposited.String()),
	)
	return msg, opened, nil
}

// Get 按 ID 查询消息。
func (s *Service) Get(ctx context.Context, id string) (*Message, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "消息服务未初始化")
	}
	return s.store.Get(ctx, id)
}

// Inbox 返回收件人最近收到的消息。
func (s *Service) Inbox(ctx context.Context, recipient common.Address, limit int) ([]*Message, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "消息服务未初始化")
	}
	return s.store.Inbox(ctx, recipient, limit)
}

// Close 释放底层存储。
func (s *Service) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) checkRecipient(ctx context.Context, recipient common.Address) error {
	if s.agents == nil {
		return nil
	}
	registered, err := s.agents.IsRegistered(ctx, recipient)
	if err != nil {
		return err
	}
	if !registered {
		return registry.ErrAgentNotFound
	}
	return nil
}
