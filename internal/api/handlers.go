package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"bankcore/internal/domain"
	"bankcore/internal/engine"
	"bankcore/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error",
			"error":  "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeOperationError maps engine errors onto HTTP statuses. Parameter and
// rule violations carry their reason to the client; transaction failure
// detail stays in the server log.
func writeOperationError(w http.ResponseWriter, err error) {
	var param *engine.ParameterError
	if errors.As(err, &param) {
		writeError(w, http.StatusBadRequest, param.Reason)
		return
	}
	var rule *engine.RuleError
	if errors.As(err, &rule) {
		writeError(w, http.StatusUnprocessableEntity, rule.Reason)
		return
	}
	log.Error().Err(err).Msg("operation failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

type paymentRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	PayerID    int64           `json:"payer_id"`
	ReceiverID int64           `json:"receiver_id"`
}

func (s *Server) handleMakePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.MakePayment(r.Context(), req.Amount, req.PayerID, req.ReceiverID); err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "committed"})
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.TopUp(r.Context(), accountID, req.Amount); err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "committed"})
}

type issueCardRequest struct {
	OwnerID   int64  `json:"owner_id"`
	AccountID int64  `json:"account_id"`
	Network   string `json:"network"`
}

func (s *Server) handleIssueCard(w http.ResponseWriter, r *http.Request) {
	var req issueCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	code, err := s.engine.IssueCard(r.Context(), req.OwnerID, req.AccountID, domain.CardNetwork(req.Network))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	// The plaintext verification code is returned exactly once.
	writeJSON(w, http.StatusCreated, map[string]string{"verification_code": code})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	if err := s.engine.DeleteAccount(r.Context(), id); err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDeletePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "personId")
	if !ok {
		return
	}
	if err := s.engine.DeletePerson(r.Context(), id); err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	acct, err := s.store.AccountByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	payments, err := s.store.ListPaymentsByAccount(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	cards, err := s.store.ListCardsByAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list cards")
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "personId")
	if !ok {
		return
	}
	accounts, err := s.store.ListAccountsByOwner(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetAccountStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status := domain.AccountStatus(req.Status)
	if status != domain.AccountActive && status != domain.AccountBlocked {
		writeError(w, http.StatusBadRequest, "status must be active or blocked")
		return
	}
	err := s.store.UpdateAccountStatus(r.Context(), id, status)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update account status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (s *Server) handleSetCardStatus(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status := domain.CardStatus(req.Status)
	if status != domain.CardActive && status != domain.CardBlocked {
		writeError(w, http.StatusBadRequest, "status must be active or blocked")
		return
	}
	err := s.store.UpdateCardStatus(r.Context(), cardID, status)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "card not found")
		return
	}
	if errors.Is(err, store.ErrBlocked) {
		writeError(w, http.StatusUnprocessableEntity, "linked account is blocked")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update card status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// personResponse carries the concurrency token a client must echo back on
// update.
type personResponse struct {
	*domain.Person
	ConcurrencyToken string `json:"concurrency_token"`
}

func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "personId")
	if !ok {
		return
	}
	person, err := s.store.PersonByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get person")
		return
	}
	writeJSON(w, http.StatusOK, personResponse{
		Person:           person,
		ConcurrencyToken: person.ConcurrencyHash(),
	})
}

type updatePersonRequest struct {
	Login            string `json:"login"`
	Role             string `json:"role"`
	Status           string `json:"status"`
	ConcurrencyToken string `json:"concurrency_token"`
}

func (s *Server) handleUpdatePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "personId")
	if !ok {
		return
	}
	var req updatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	person, err := s.store.PersonByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get person")
		return
	}

	if req.Login != "" {
		person.Login = req.Login
	}
	if req.Role != "" {
		person.Role = domain.Role(req.Role)
	}
	if req.Status != "" {
		person.Status = domain.PersonStatus(req.Status)
	}

	err = s.store.UpdatePersonProfile(r.Context(), person, req.ConcurrencyToken)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "person changed since read, re-fetch and retry")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update person")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleIncome(w http.ResponseWriter, r *http.Request) {
	balance, err := s.store.SystemIncome(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get system income")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}
