package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikdmello/swift/internal/auth"
	xerrors "github.com/nikdmello/swift/internal/errors"
	"github.com/nikdmello/swift/internal/messenger"
	"github.com/nikdmello/swift/internal/observability/metrics"
	"github.com/nikdmello/swift/internal/registry"
	"github.com/nikdmello/swift/internal/stream"
	"github.com/nikdmello/swift/internal/web3/provider"
)

// callerHeader 携带调用方地址。账本层的越权检查不依赖这里，
// 这只是身份声明的传递通道。
const callerHeader = "X-Swift-Caller"

// Server 负责暴露 REST 接口，供外部驱动支付流账本。
type Server struct {
	addr     string
	streams  *stream.Service
	agents   *registry.Service
	messages *messenger.Service
	chains   *provider.Registry
	authsvc  *auth.Service
	clock    func() int64
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithChainRegistry 挂载链客户端注册表，启用 /api/v1/chain 接口。
func WithChainRegistry(chains *provider.Registry) Option {
	return func(s *Server) {
		s.chains = chains
	}
}

// WithAuthService 启用访问控制中间件。
func WithAuthService(svc *auth.Service) Option {
	return func(s *Server) {
		s.authsvc = svc
	}
}

// WithClock 注入时间源，默认取系统时间。
func WithClock(clock func() int64) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, streams *stream.Service, agents *registry.Service, messages *messenger.Service, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		streams:  streams,
		agents:   agents,
		messages: messages,
		clock:    func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装完整的路由表，测试可以直接挂到 httptest 上。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/streams", s.instrument("streams", s.handleStreams))
	mux.HandleFunc("/api/v1/streams/stats", s.instrument("stream_stats", s.handleStreamStats))
	mux.HandleFunc("/api/v1/streams/", s.instrument("stream_detail", s.handleStreamDetail))
	mux.HandleFunc("/api/v1/agents", s.instrument("agents", s.handleAgents))
	mux.HandleFunc("/api/v1/agents/", s.instrument("agent_detail", s.handleAgentDetail))
	mux.HandleFunc("/api/v1/services", s.instrument("services", s.handleServices))
	mux.HandleFunc("/api/v1/messages", s.instrument("messages", s.handleMessages))
	mux.HandleFunc("/api/v1/inbox/", s.instrument("inbox", s.handleInbox))
	mux.HandleFunc("/api/v1/chain", s.instrument("chain", s.handleChain))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", metrics.Handler())

	if s.authsvc != nil && s.authsvc.Enabled() {
		guarded := s.authsvc.Middleware(auth.MiddlewareConfig{})(mux)
		outer := http.NewServeMux()
		outer.HandleFunc("/healthz", s.handleHealthz)
		outer.Handle("/metrics", metrics.Handler())
		outer.Handle("/", guarded)
		return outer
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChain 返回默认链的摘要信息。
func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.chains == nil {
		http.Error(w, "未配置链客户端", http.StatusServiceUnavailable)
		return
	}
	client, err := s.chains.DefaultClient()
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := client.FetchChainSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"chain_id":     snapshot.ChainID,
		"block_number": snapshot.BlockNumber,
		"notes":        snapshot.Notes,
	})
}

// instrument 将请求耗时与状态码写入指标收集器。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 将统一错误体系映射到 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, stream.CodeInvalidAmount:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, stream.CodeStreamNotFound, registry.CodeAgentNotFound,
		registry.CodeServiceNotFound, messenger.CodeMessageNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, stream.CodeStreamAlreadyActive, stream.CodeVersionConflict,
		registry.CodeDuplicateService:
		status = http.StatusConflict
	case xerrors.CodeUnauthorized:
		status = http.StatusForbidden
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case messenger.CodeEmptyMessage:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
}

// callerAddress 解析 X-Swift-Caller 头。
func callerAddress(r *http.Request) (common.Address, error) {
	raw := r.Header.Get(callerHeader)
	if raw == "" {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "缺少 "+callerHeader+" 请求头")
	}
	return parseAddress(raw)
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "非法地址: "+raw)
	}
	return common.HexToAddress(raw), nil
}
