package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
	"github.com/nikdmello/swift/internal/stream"
)

// openStreamRequest 是开流请求体。金额使用十进制字符串，
// 避免 JSON 数字精度问题。
type openStreamRequest struct {
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	TotalAmount string `json:"total_amount"`
	Duration    int64  `json:"duration"`
}

// settlementResponse 汇总一次清算的资金去向。
type settlementResponse struct {
	Stream *stream.Stream `json:"stream,omitempty"`
	Paid   string         `json:"paid"`
	Refund string         `json:"refund"`
}

func newSettlementResponse(settled *stream.Settlement) settlementResponse {
	resp := settlementResponse{Paid: "0", Refund: "0"}
	if settled == nil {
		return resp
	}
	resp.Stream = settled.Stream
	if settled.Paid != nil {
		resp.Paid = settled.Paid.String()
	}
	if settled.Refund != nil {
		resp.Refund = settled.Refund.String()
	}
	return resp
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleOpenStream(w, r)
	case http.MethodGet:
		s.handleListStreams(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleOpenStream 处理开流请求。
func (s *Server) handleOpenStream(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		http.Error(w, "支付流服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req openStreamRequest
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
	total, ok := new(big.Int).SetString(strings.TrimSpace(req.TotalAmount), 10)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "非法金额: "+req.TotalAmount))
		return
	}

	opened, err := s.streams.Open(r.Context(), sender, recipient, total, req.Duration, s.clock())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, opened)
}

// handleListStreams 按查询参数过滤支付流列表。
func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		http.Error(w, "支付流服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	streams, err := s.streams.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

// handleStreamStats 返回账本聚合统计。
func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.streams == nil {
		http.Error(w, "支付流服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.streams.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleStreamDetail 分发 /api/v1/streams/{sender}/{recipient}[/op] 请求。
func (s *Server) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		http.Error(w, "支付流服务未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/streams/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || len(parts) > 3 {
		http.Error(w, "路径格式应为 /api/v1/streams/{sender}/{recipient}[/op]", http.StatusBadRequest)
		return
	}

	sender, err := parseAddress(parts[0])
	if err != nil {
		writeError(w, err)
		return
	}
	recipient, err := parseAddress(parts[1])
	if err != nil {
		writeError(w, err)
		return
	}

	op := ""
	if len(parts) == 3 {
		op = parts[2]
	}

	switch op {
	case "":
		s.handleGetStream(w, r, sender, recipient)
	case "owed":
		s.handleOwed(w, r, sender, recipient)
	case "history":
		s.handleHistory(w, r, sender, recipient)
	case "withdraw":
		s.handleWithdraw(w, r, sender, recipient)
	case "cancel":
		s.handleCancel(w, r, sender, recipient)
	default:
		http.Error(w, "未知操作: "+op, http.StatusNotFound)
	}
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request, sender, recipient common.Address) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	record, err := s.streams.Get(r.Context(), sender, recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleOwed(w http.ResponseWriter, r *http.Request, sender, recipient common.Address) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	now := s.clock()
	owed, err := s.streams.Owed(r.Context(), sender, recipient, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owed": owed.String(),
		"at":   now,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, sender, recipient common.Address) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	records, err := s.streams.History(r.Context(), sender, recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, sender, recipient common.Address) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	settled, err := s.streams.Withdraw(r.Context(), sender, recipient, caller, s.clock())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementResponse(settled))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, sender, recipient common.Address) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	settled, err := s.streams.Cancel(r.Context(), sender, recipient, caller, s.clock())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementResponse(settled))
}

// listOptionsFromQuery 将查询参数转换为列表过滤选项。
func listOptionsFromQuery(r *http.Request) ([]stream.ListOption, error) {
	query := r.URL.Query()
	var opts []stream.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法 limit: "+raw)
		}
		opts = append(opts, stream.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法 offset: "+raw)
		}
		opts = append(opts, stream.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]stream.Status, 0, 3)
		for _, status := range strings.Split(raw, ",") {
			statuses = append(statuses, stream.Status(strings.TrimSpace(status)))
		}
		opts = append(opts, stream.WithStatuses(statuses...))
	}
	if raw := query.Get("participant"); raw != "" {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, stream.WithParticipant(addr))
	}
	if raw := query.Get("sender"); raw != "" {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, stream.WithSender(addr))
	}
	if raw := query.Get("recipient"); raw != "" {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, stream.WithRecipient(addr))
	}
	if raw := query.Get("updated_since"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法 updated_since: "+raw)
		}
		opts = append(opts, stream.WithUpdatedSince(time.Unix(ts, 0)))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, stream.WithSortOrder(stream.SortByUpdatedAsc))
	}
	return opts, nil
}
