// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxmill/settled/internal/store"
)

type taskResponse struct {
	ID         string     `json:"id"`
	UserID     *string    `json:"userId,omitempty"`
	Kind       string     `json:"kind"`
	Engine     string     `json:"engine"`
	TargetType string     `json:"targetType"`
	TargetID   string     `json:"targetId"`
	JobID      *string    `json:"jobId,omitempty"`
	Status     string     `json:"status"`
	Progress   int        `json:"progress"`
	Error      *string    `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func toTaskResponse(t *store.Task) taskResponse {
	return taskResponse{
		ID:         t.ID,
		UserID:     t.UserID,
		Kind:       t.Kind.String(),
		Engine:     t.Engine.String(),
		TargetType: string(t.TargetType),
		TargetID:   t.TargetID,
		JobID:      t.JobID,
		Status:     t.Status.String(),
		Progress:   t.Progress,
		Error:      t.Error,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.TaskByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, "task lookup failed")
		return
	}
	if task == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleTasksByJobID(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeErrorMsg(w, http.StatusBadRequest, "jobId query parameter is required")
		return
	}
	tasks, err := s.store.TasksByJobIDAll(r.Context(), jobID)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, "task lookup failed")
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, toTaskResponse(&tasks[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	balance, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "balance": balance})
}

type transactionResponse struct {
	ID           int64          `json:"id"`
	Delta        int64          `json:"delta"`
	BalanceAfter int64          `json:"balanceAfter"`
	Type         string         `json:"type"`
	RefType      string         `json:"refType"`
	RefID        string         `json:"refId"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeErrorMsg(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	txs, err := s.ledger.TransactionsByUser(r.Context(), userID, limit)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, "transaction lookup failed")
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, transactionResponse{
			ID:           t.ID,
			Delta:        t.Delta,
			BalanceAfter: t.BalanceAfter,
			Type:         string(t.Type),
			RefType:      t.RefType,
			RefID:        t.RefID,
			Metadata:     t.Metadata,
			CreatedAt:    t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "transactions": out})
}
