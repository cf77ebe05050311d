package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

type registerAgentRequest struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

type registerServiceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PriceWei    string `json:"price_wei"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		http.Error(w, "注册中心未初始化", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req registerAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		addr, err := parseAddress(req.Address)
		if err != nil {
			writeError(w, err)
			return
		}
		agent, err := s.agents.RegisterAgent(r.Context(), addr, req.Name, req.Endpoint)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, agent)
	case http.MethodGet:
		agents, err := s.agents.ListAgents(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agents)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleAgentDetail 分发 /api/v1/agents/{addr}[/services] 请求。
func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		http.Error(w, "注册中心未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/agents/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || len(parts) > 2 || parts[0] == "" {
		http.Error(w, "路径格式应为 /api/v1/agents/{addr}[/services]", http.StatusBadRequest)
		return
	}

	addr, err := parseAddress(parts[0])
	if err != nil {
		writeError(w, err)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		agent, err := s.agents.GetAgent(r.Context(), addr)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agent)
		return
	}

	if parts[1] != "services" {
		http.Error(w, "未知子资源: "+parts[1], http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req registerServiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		price, ok := new(big.Int).SetString(strings.TrimSpace(req.PriceWei), 10)
		if !ok {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "非法价格: "+req.PriceWei))
			return
		}
		offering, err := s.agents.RegisterService(r.Context(), addr, req.Name, req.Description, price)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, offering)
	case http.MethodGet:
		offerings, err := s.agents.ListServices(r.Context(), addr)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, offerings)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleServices 按服务名检索所有提供方。
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.agents == nil {
		http.Error(w, "注册中心未初始化", http.StatusServiceUnavailable)
		return
	}

	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		http.Error(w, "缺少 name 查询参数", http.StatusBadRequest)
		return
	}
	offerings, err := s.agents.FindProviders(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offerings)
}
