package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tally-network/tally/internal/domain"
)

// decode unmarshals a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// parseWindow parses a submission window given as a Go duration string.
func parseWindow(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, errors.New("missing duration")
	}
	return time.ParseDuration(raw)
}

// parseAmountField parses a decimal amount string from a request body.
func parseAmountField(w http.ResponseWriter, field, raw string) (int64, bool) {
	v, err := domain.ParseAmount(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, field+": "+err.Error())
		return 0, false
	}
	return v, true
}

// ─── Accounts ───────────────────────────────────────────────────────────────

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := s.engine.Balance(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	history, err := s.engine.History(domain.UserAccount(id), queryInt(r, "limit", 20))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"balance": domain.FormatAmount(balance),
		"history": history,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, ok := parseAmountField(w, "amount", req.Amount)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.engine.Deposit(id, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	balance, err := s.engine.Balance(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"balance": domain.FormatAmount(balance),
	})
}

// ─── Providers ──────────────────────────────────────────────────────────────

// providerView is the provider record enriched with live balances.
type providerView struct {
	domain.Provider
	Collateral string `json:"collateral"`
	Pending    string `json:"pending,omitempty"`
	Tier       string `json:"tier"`
}

func (s *Server) providerView(p domain.Provider) (providerView, error) {
	collateral, err := s.engine.CollateralOf(p.ID)
	if err != nil {
		return providerView{}, err
	}
	pending, err := s.engine.PendingOf(p.ID)
	if err != nil {
		return providerView{}, err
	}
	view := providerView{
		Provider:   p,
		Collateral: domain.FormatAmount(collateral),
		Tier:       domain.ReputationTier(p.ReputationScore),
	}
	if pending > 0 {
		view.Pending = domain.FormatAmount(pending)
	}
	return view, nil
}

func (s *Server) writeProvider(w http.ResponseWriter, p domain.Provider) {
	view, err := s.providerView(p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID           string `json:"id"`
		InitialStake string `json:"initial_stake"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	stake, ok := parseAmountField(w, "initial_stake", req.InitialStake)
	if !ok {
		return
	}

	p, err := s.engine.RegisterProvider(req.ID, stake)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeProvider(w, p)
}

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	providers := s.engine.ListProviders()
	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		view, err := s.providerView(p)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": views})
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.engine.GetProvider(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	view, err := s.providerView(p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	slashes, err := s.engine.SlashesFor(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": view,
		"slashes":  slashes,
	})
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, ok := parseAmountField(w, "amount", req.Amount)
	if !ok {
		return
	}

	p, err := s.engine.TopUpStake(chi.URLParam(r, "id"), amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeProvider(w, p)
}

func (s *Server) handleInitiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, ok := parseAmountField(w, "amount", req.Amount)
	if !ok {
		return
	}

	p, err := s.engine.InitiateWithdrawal(chi.URLParam(r, "id"), amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeProvider(w, p)
}

func (s *Server) handleCompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	p, released, err := s.engine.CompleteWithdrawal(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	view, err := s.providerView(p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": view,
		"released": domain.FormatAmount(released),
	})
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := s.engine.SetProviderActive(chi.URLParam(r, "id"), req.Active)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeProvider(w, p)
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

// taskRequest is the wire form of a new task; amounts are decimal strings
// and the window is a Go duration string.
type taskRequest struct {
	Requester              string `json:"requester"`
	Kind                   string `json:"kind"`
	InputRef               string `json:"input_ref,omitempty"`
	MinProviders           int    `json:"min_providers"`
	RequiredProviderStake  string `json:"required_provider_stake,omitempty"`
	RewardPerProvider      string `json:"reward_per_provider"`
	SubmissionWindow       string `json:"submission_window"`
	NumericToleranceBps    *int64 `json:"numeric_tolerance_bps,omitempty"`
	CategoricalMajorityBps *int64 `json:"categorical_majority_bps,omitempty"`
}

func (s *Server) handleRequestTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reward, ok := parseAmountField(w, "reward_per_provider", req.RewardPerProvider)
	if !ok {
		return
	}
	var requiredStake int64
	if req.RequiredProviderStake != "" {
		requiredStake, ok = parseAmountField(w, "required_provider_stake", req.RequiredProviderStake)
		if !ok {
			return
		}
	}
	window, err := parseWindow(req.SubmissionWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "submission_window: "+err.Error())
		return
	}

	task, err := s.engine.RequestTask(req.Requester, domain.TaskSpec{
		Kind:                   domain.TaskKind(req.Kind),
		InputRef:               req.InputRef,
		MinProviders:           req.MinProviders,
		RequiredProviderStake:  requiredStake,
		RewardPerProvider:      reward,
		SubmissionWindow:       window,
		NumericToleranceBps:    req.NumericToleranceBps,
		CategoricalMajorityBps: req.CategoricalMajorityBps,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	tasks := s.engine.ListTasks(status, queryInt(r, "limit", 50))
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.engine.GetTask(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	subs, err := s.engine.Submissions(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task":        task,
		"submissions": subs,
	})
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderID string `json:"provider_id"`
		Payload    string `json:"payload"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sub, err := s.engine.SubmitResult(chi.URLParam(r, "id"), req.ProviderID, req.Payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	task, err := s.engine.CancelTask(chi.URLParam(r, "id"), req.Caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleFinalizeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.FinalizeTask(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ─── Audit & Params ─────────────────────────────────────────────────────────

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	records, err := s.trail.List(queryInt(r, "limit", 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"params": s.engine.ParamList()})
}
