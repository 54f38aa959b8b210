package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"time"

	"ChainPilot/internal/bundle"
	"ChainPilot/internal/conversation"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/web3"
)

// ChainProvider 按名称提供链客户端，provider.Registry 实现该接口。
type ChainProvider interface {
	DefaultChain() string
	Chains() []string
	Client(name string) (web3.Client, bool)
}

// Server 负责暴露 REST 接口，供对话界面驱动整条流水线。
type Server struct {
	addr         string
	orchestrator *conversation.Orchestrator
	bundles      *bundle.Service
	chains       ChainProvider
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orchestrator *conversation.Orchestrator, bundles *bundle.Service, chains ChainProvider) *Server {
	return &Server{addr: addr, orchestrator: orchestrator, bundles: bundles, chains: chains}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", s.instrument("sessions", s.handleCreateSession))
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", s.instrument("messages", s.handleSendMessage))
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", s.instrument("messages", s.handleListMessages))
	mux.HandleFunc("GET /api/v1/sessions/{id}/bundle", s.instrument("bundle", s.handleGetBundle))
	mux.HandleFunc("POST /api/v1/sessions/{id}/bundle/approve", s.instrument("bundle_approve", s.handleApprove))
	mux.HandleFunc("POST /api/v1/sessions/{id}/bundle/reject", s.instrument("bundle_reject", s.handleReject))
	mux.HandleFunc("GET /api/v1/sessions/{id}/bundles", s.instrument("bundle_history", s.handleListBundles))
	mux.HandleFunc("GET /api/v1/chains", s.instrument("chains", s.handleChains))
	mux.HandleFunc("GET /api/v1/chains/{name}/snapshot", s.instrument("chain_snapshot", s.handleChainSnapshot))
	mux.HandleFunc("GET /healthz", s.instrument("health", s.handleHealth))

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
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

type createSessionRequest struct {
	Wallet string `json:"wallet"`
	Chain  string `json:"chain"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if req.Chain == "" && s.chains != nil {
		req.Chain = s.chains.DefaultChain()
	}
	session, err := s.orchestrator.CreateSession(r.Context(), req.Wallet, req.Chain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	result, err := s.orchestrator.HandleMessage(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}
	messages, err := s.orchestrator.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}
	active, err := s.orchestrator.PendingBundle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}
	approved, err := s.orchestrator.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approved)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}
	rejected, err := s.orchestrator.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rejected)
}

func (s *Server) handleListBundles(w http.ResponseWriter, r *http.Request) {
	if s.bundles == nil {
		http.Error(w, "交易包服务未初始化", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	bundles, err := s.bundles.List(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundles)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	type chainInfo struct {
		Name    string `json:"name"`
		Default bool   `json:"default"`
	}
	names := s.chains.Chains()
	infos := make([]chainInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, chainInfo{Name: name, Default: name == s.chains.DefaultChain()})
	}
	writeJSON(w, http.StatusOK, infos)
}

type chainSnapshotResponse struct {
	Chain string `json:"chain"`
	web3.ChainSnapshot
	Balance string `json:"balance,omitempty"`
	Nonce   string `json:"nonce,omitempty"`
}

// handleChainSnapshot 返回指定链的实时元数据。携带 address 查询参数时
// 一并返回该地址的原生币余额与待处理交易计数。
func (s *Server) handleChainSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		http.Error(w, "链客户端未初始化", http.StatusServiceUnavailable)
		return
	}
	name := r.PathValue("name")
	client, ok := s.chains.Client(name)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "链 "+name+" 未配置"))
		return
	}
	snapshot, err := client.FetchChainSnapshot(r.Context())
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeTransportFailure, err, "获取链快照失败"))
		return
	}
	resp := chainSnapshotResponse{Chain: name, ChainSnapshot: snapshot}
	if address := r.URL.Query().Get("address"); address != "" {
		balance, err := client.NativeBalance(r.Context(), address)
		if err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "查询余额失败"))
			return
		}
		nonce, err := client.PendingNonce(r.Context(), address)
		if err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeTransportFailure, err, "查询交易计数失败"))
			return
		}
		resp.Balance = balance
		resp.Nonce = nonce
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument 包装处理函数，记录请求量与时延指标。
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

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 把统一错误码映射到 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := xerrors.CodeOf(err)
	switch code {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, bundle.CodeBundleNotFound, conversation.CodeSessionNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeBundleConflict, xerrors.CodeBundleTerminal,
		conversation.CodeSessionConflict, conversation.CodeSessionBusy:
		status = http.StatusConflict
	case xerrors.CodeTransportFailure, xerrors.CodeTimeout:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
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
