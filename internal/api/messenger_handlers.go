package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	xerrors "github.com/nikdmello/swift/internal/errors"
	"github.com/nikdmello/swift/internal/messenger"
	"github.com/nikdmello/swift/internal/stream"
)

// sendMessageRequest 是消息投递请求体。带上 total_amount 与
// duration 时，消息会随新开的支付流一起送达。
type sendMessageRequest struct {
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	Content     string `json:"content"`
	TotalAmount string `json:"total_amount,omitempty"`
	Duration    int64  `json:"duration,omitempty"`
}

type sendMessageResponse struct {
	Message *messenger.Message `json:"message"`
	Stream  *stream.Stream     `json:"stream,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.messages == nil {
		http.Error(w, "消息服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		writeError(w, err)
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}

	now := s.clock()
	if strings.TrimSpace(req.TotalAmount) == "" {
		msg, err := s.messages.SendMessage(r.Context(), sender, recipient, req.Content, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sendMessageResponse{Message: msg})
		return
	}

	total, ok := new(big.Int).SetString(strings.TrimSpace(req.TotalAmount), 10)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "非法金额: "+req.TotalAmount))
		return
	}
	msg, opened, err := s.messages.SendMessageWithStream(r.Context(), sender, recipient, req.Content, total, req.Duration, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sendMessageResponse{Message: msg, Stream: opened})
}

// handleInbox 返回收件人最近收到的消息。
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.messages == nil {
		http.Error(w, "消息服务未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/inbox/"), "/")
	if rest == "" || strings.Contains(rest, "/") {
		http.Error(w, "路径格式应为 /api/v1/inbox/{addr}", http.StatusBadRequest)
		return
	}
	addr, err := parseAddress(rest)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	messages, err := s.messages.Inbox(r.Context(), addr, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
