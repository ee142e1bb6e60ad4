package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"agent-rep/internal/ledger"
	"agent-rep/internal/reputation"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	vault, err := s.store.Balance(ctx, s.ledger.Vault())
	if err != nil {
		fail(c, err)
		return
	}
	active, err := s.store.ListAgents(ctx, storage.AgentFilter{ActiveOnly: true})
	if err != nil {
		fail(c, err)
		return
	}
	latest, err := s.store.LatestSequence(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{
		ProgramID:      s.ledger.ProgramID(),
		Vault:          s.ledger.Vault(),
		Treasury:       s.ledger.Treasury(),
		VaultBalance:   vault,
		ActiveAgents:   len(active),
		LatestSequence: latest,
		ArchiveEnabled: s.archive != nil,
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := s.ledger.Register(c.Request.Context(), callerOf(c), ledger.RegisterParams{
		Name:         req.Name,
		Description:  req.Description,
		AgentType:    req.AgentType,
		InitialStake: req.InitialStake,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, agentResponse(a))
}

func (s *Server) handleLogAction(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok || !s.requireSelf(c, owner) {
		return
	}
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, err := s.ledger.LogAction(c.Request.Context(), owner, ledger.ActionParams{
		ActionType:    req.ActionType,
		Protocol:      req.Protocol,
		InputValue:    req.InputValue,
		OutputValue:   req.OutputValue,
		Outcome:       req.Outcome,
		Metadata:      req.Metadata,
		ExpectedIndex: req.ExpectedIndex,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, LogActionResponse{
		Action: actionResponse(r.Action),
		Agent:  agentResponse(r.Agent),
	})
}

func (s *Server) handleSlash(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok {
		return
	}
	var req slashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := s.ledger.Slash(c.Request.Context(), callerOf(c), owner, req.Amount, req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agentResponse(a))
}

func (s *Server) handleDeregister(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok || !s.requireSelf(c, owner) {
		return
	}
	r, err := s.ledger.Deregister(c.Request.Context(), owner)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, DeregisterResponse{Agent: agentResponse(r.Agent), StakeReturned: r.StakeReturned})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok {
		return
	}
	r, err := s.ledger.Reputation(c.Request.Context(), owner)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleAddress(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok {
		return
	}
	addr, bump, err := s.ledger.AgentAddress(owner)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AddressResponse{Owner: owner, Agent: addr, Bump: bump, ProgramID: s.ledger.ProgramID()})
}

// handleQueryReputation attributes the query to the signer when the request
// is signed and to the querier parameter otherwise.
func (s *Server) handleQueryReputation(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok {
		return
	}
	var querier solana.PublicKey
	caller, err := s.verifier.Identify(c.Request)
	switch {
	case err == nil:
		querier = caller
	case !errors.Is(err, errMissingSignature):
		c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error(), Kind: "unauthorized"})
		return
	case c.Query("querier") != "":
		if querier, err = solana.ParsePublicKey(c.Query("querier")); err != nil {
			badRequest(c, err)
			return
		}
	}
	q, err := s.ledger.QueryReputation(c.Request.Context(), owner, querier)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) handleCheckTrust(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok {
		return
	}
	policy, err := s.trustPolicy(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	r, err := s.ledger.CheckTrust(c.Request.Context(), owner, policy)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// trustPolicy overlays query parameters on the server's default policy.
func (s *Server) trustPolicy(c *gin.Context) (reputation.TrustPolicy, error) {
	p := s.trust
	if v := c.Query("min_score"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return p, fmt.Errorf("invalid min_score %q", v)
		}
		p.MinScore = uint8(n)
	}
	if v := c.Query("min_actions"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return p, fmt.Errorf("invalid min_actions %q", v)
		}
		p.MinActions = n
	}
	if v := c.Query("max_inactive_days"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return p, fmt.Errorf("invalid max_inactive_days %q", v)
		}
		p.MaxInactiveDays = n
	}
	return p, p.Validate()
}

func (s *Server) handleListActions(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}
	actions, err := s.ledger.ActionHistory(c.Request.Context(), owner, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, actionResponses(actions))
}

func (s *Server) handleGetAction(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok {
		return
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid action index %q", c.Param("index")))
		return
	}
	a, err := s.store.GetAction(c.Request.Context(), owner, index)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, actionResponse(a))
}

func (s *Server) handleScoreHistory(c *gin.Context) {
	owner, ok := s.ownerParam(c)
	if !ok {
		return
	}
	if s.archive == nil {
		fail(c, errNoArchive)
		return
	}
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	agent, _, err := s.ledger.AgentAddress(owner)
	if err != nil {
		fail(c, err)
		return
	}
	points, err := s.archive.ScoreHistory(c.Request.Context(), agent, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

func (s *Server) handleListAgents(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	agents, err := s.store.ListAgents(c.Request.Context(), storage.AgentFilter{
		ActiveOnly: c.Query("active") != "false",
		Limit:      limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]AgentResponse, len(agents))
	for i, a := range agents {
		out[i] = agentResponse(a)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 10)
	if !ok {
		return
	}
	entries, err := s.ledger.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// handleListEvents pages through the outbox for polling consumers.
func (s *Server) handleListEvents(c *gin.Context) {
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		badRequest(c, fmt.Errorf("invalid after %q", c.Query("after")))
		return
	}
	limit, ok := intQuery(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	envs, err := s.store.ListEvents(c.Request.Context(), after, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, envs)
}

func (s *Server) handleBalance(c *gin.Context) {
	account, err := solana.ParsePublicKey(c.Param("account"))
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := s.store.Balance(c.Request.Context(), account)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, BalanceResponse{Account: account, Amount: amount})
}

// handleDeposit credits test funds to the signer's own account.
func (s *Server) handleDeposit(c *gin.Context) {
	account, err := solana.ParsePublicKey(c.Param("account"))
	if err != nil {
		badRequest(c, err)
		return
	}
	if !s.requireSelf(c, account) {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := s.store.Deposit(ctx, account, req.Amount); err != nil {
		fail(c, err)
		return
	}
	amount, err := s.store.Balance(ctx, account)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, BalanceResponse{Account: account, Amount: amount})
}

func (s *Server) ownerParam(c *gin.Context) (solana.PublicKey, bool) {
	owner, err := solana.ParsePublicKey(c.Param("owner"))
	if err != nil {
		badRequest(c, err)
		return solana.PublicKey{}, false
	}
	return owner, true
}

// requireSelf rejects a signed request acting on another identity's account.
func (s *Server) requireSelf(c *gin.Context, owner solana.PublicKey) bool {
	if callerOf(c) != owner {
		c.JSON(http.StatusForbidden, errorBody{Error: "caller does not own this account", Kind: "unauthorized"})
		return false
	}
	return true
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > maxPageSize {
		badRequest(c, fmt.Errorf("invalid %s %q", name, v))
		return 0, false
	}
	return n, true
}
