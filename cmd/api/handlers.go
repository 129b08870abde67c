package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"disputeflow/arbitration"
	"disputeflow/audit"
	"disputeflow/autoscore"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/jury"
	"disputeflow/reconciler"
)

type disputeResponse struct {
	ID               string                   `json:"id"`
	SubmissionID     string                   `json:"submission_id"`
	TaskID           string                   `json:"task_id"`
	WorkerID         string                   `json:"worker_id"`
	RequesterID      string                   `json:"requester_id"`
	OpenedBy         dispute.Party            `json:"opened_by"`
	Reason           string                   `json:"reason"`
	Status           dispute.Status           `json:"status"`
	CurrentTier      dispute.Tier             `json:"current_tier"`
	EvidenceDeadline *time.Time               `json:"evidence_deadline,omitempty"`
	Tier2Deadline    *time.Time               `json:"tier2_deadline,omitempty"`
	Tier3Deadline    *time.Time               `json:"tier3_deadline,omitempty"`
	AutoScore        *autoscore.Result        `json:"auto_score,omitempty"`
	TierHistory      []dispute.TierTransition `json:"tier_history"`
	Escalation       *dispute.Escalation      `json:"escalation,omitempty"`
	EscalationStake  *dispute.EscalationStake `json:"escalation_stake,omitempty"`
	Resolution       *dispute.Resolution      `json:"resolution,omitempty"`
	SettledAt        *time.Time               `json:"settled_at,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	return disputeResponse{
		ID:               d.ID,
		SubmissionID:     d.SubmissionID,
		TaskID:           d.TaskID,
		WorkerID:         d.WorkerID,
		RequesterID:      d.RequesterID,
		OpenedBy:         d.OpenedBy,
		Reason:           d.Reason,
		Status:           d.Status,
		CurrentTier:      d.CurrentTier,
		EvidenceDeadline: d.EvidenceDeadline,
		Tier2Deadline:    d.Tier2Deadline,
		Tier3Deadline:    d.Tier3Deadline,
		AutoScore:        d.AutoScore,
		TierHistory:      d.TierHistory,
		Escalation:       d.Escalation,
		EscalationStake:  d.EscalationStake,
		Resolution:       d.Resolution,
		SettledAt:        d.SettledAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

type evidenceResponse struct {
	ID          string        `json:"id"`
	SubmittedBy string        `json:"submitted_by"`
	Type        evidence.Type `json:"type"`
	Description string        `json:"description"`
	StorageKey  *string       `json:"storage_key,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

func toEvidenceResponse(item evidence.Item) evidenceResponse {
	return evidenceResponse{
		ID:          item.ID,
		SubmittedBy: item.SubmittedBy,
		Type:        item.Type,
		Description: item.Description,
		StorageKey:  item.StorageKey,
		CreatedAt:   item.CreatedAt,
	}
}

type legResponse struct {
	Kind        dispute.LegKind   `json:"kind"`
	Action      dispute.LegAction `json:"action"`
	Status      dispute.LegStatus `json:"status"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

type detailResponse struct {
	Dispute   disputeResponse    `json:"dispute"`
	Evidence  []evidenceResponse `json:"evidence"`
	PanelSize int                `json:"panel_size"`
	VotesCast int                `json:"votes_cast"`
	Legs      []legResponse      `json:"settlement_legs"`
	Audit     []audit.Entry      `json:"audit"`
}

func toDetailResponse(d arbitration.Detail) detailResponse {
	resp := detailResponse{
		Dispute:   toDisputeResponse(d.Dispute),
		Evidence:  make([]evidenceResponse, len(d.Evidence)),
		PanelSize: d.PanelSize,
		VotesCast: d.VotesCast,
		Legs:      make([]legResponse, len(d.Legs)),
		Audit:     d.Audit,
	}
	for i, item := range d.Evidence {
		resp.Evidence[i] = toEvidenceResponse(item)
	}
	for i, leg := range d.Legs {
		resp.Legs[i] = legResponse{
			Kind:        leg.Kind,
			Action:      leg.Instruction.Action,
			Status:      leg.Status,
			Attempts:    leg.Attempts,
			LastError:   leg.LastError,
			CompletedAt: leg.CompletedAt,
		}
	}
	if resp.Audit == nil {
		resp.Audit = []audit.Entry{}
	}
	return resp
}

type openDisputeRequest struct {
	SubmissionID   string `json:"submission_id" binding:"required"`
	Reason         string `json:"reason" binding:"required"`
	ExpectEvidence bool   `json:"expect_evidence"`
}

func (s *Server) handleOpenDispute(c *gin.Context) {
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: submission_id and reason are required", "class": dispute.ClassPrecondition})
		return
	}
	if err := uuid.Validate(req.SubmissionID); err != nil {
		writeError(c, "failed to open dispute", fmt.Errorf("%w: submission %s", dispute.ErrNotFound, req.SubmissionID))
		return
	}

	d, err := s.engine.Open(c.Request.Context(), arbitration.OpenRequest{
		SubmissionID:   req.SubmissionID,
		OpenedBy:       callerID(c),
		Reason:         req.Reason,
		ExpectEvidence: req.ExpectEvidence,
	})
	if err != nil {
		writeError(c, "failed to open dispute", err)
		return
	}
	c.JSON(http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleDisputeDetail(c *gin.Context) {
	detail, err := s.engine.Detail(c.Request.Context(), c.Param("id"), callerID(c), isAdmin(c))
	if err != nil {
		writeError(c, "failed to load dispute", err)
		return
	}
	c.JSON(http.StatusOK, toDetailResponse(detail))
}

type evidenceRequest struct {
	Type        evidence.Type `json:"type" binding:"required"`
	Description string        `json:"description" binding:"required"`
	StorageKey  *string       `json:"storage_key"`
}

func (s *Server) handleSubmitEvidence(c *gin.Context) {
	var req evidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: type and description are required", "class": dispute.ClassPrecondition})
		return
	}

	item, err := s.engine.SubmitEvidence(c.Request.Context(), c.Param("id"), callerID(c), evidence.Item{
		Type:        req.Type,
		Description: req.Description,
		StorageKey:  req.StorageKey,
	})
	if err != nil {
		writeError(c, "failed to submit evidence", err)
		return
	}
	c.JSON(http.StatusCreated, toEvidenceResponse(item))
}

type voteRequest struct {
	Choice jury.Choice `json:"choice" binding:"required"`
	Reason *string     `json:"reason"`
}

func (s *Server) handleCastVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: choice is required", "class": dispute.ClassPrecondition})
		return
	}

	err := s.engine.CastVote(c.Request.Context(), arbitration.VoteRequest{
		DisputeID: c.Param("id"),
		JurorID:   callerID(c),
		Choice:    req.Choice,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(c, "failed to cast vote", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}

type appealRequest struct {
	Stake decimal.Decimal `json:"stake"`
}

func (s *Server) handleAppeal(c *gin.Context) {
	var req appealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: stake must be a decimal amount", "class": dispute.ClassPrecondition})
		return
	}

	if err := s.engine.Appeal(c.Request.Context(), c.Param("id"), callerID(c), req.Stake); err != nil {
		writeError(c, "failed to file appeal", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "appeal_filed"})
}

type resolveRequest struct {
	Outcome         dispute.Outcome `json:"outcome" binding:"required"`
	SplitPercentage *int            `json:"split_percentage"`
	Reason          string          `json:"reason"`
}

func (s *Server) handleAdminResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: outcome is required", "class": dispute.ClassPrecondition})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	err := s.engine.AdminResolve(ctx, arbitration.AdminDecision{
		DisputeID: id,
		AdminID:   callerID(c),
		Verdict:   dispute.Verdict{Outcome: req.Outcome, SplitPercentage: req.SplitPercentage},
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(c, "failed to resolve dispute", err)
		return
	}

	detail, err := s.engine.Detail(ctx, id, callerID(c), true)
	if err != nil {
		writeError(c, "failed to load dispute", err)
		return
	}
	c.JSON(http.StatusOK, toDetailResponse(detail))
}

type assignmentResponse struct {
	DisputeID     string         `json:"dispute_id"`
	Status        dispute.Status `json:"status"`
	AssignedAt    time.Time      `json:"assigned_at"`
	Tier2Deadline *time.Time     `json:"tier2_deadline,omitempty"`
	Voted         bool           `json:"voted"`
}

func (s *Server) handleJuryAssignments(c *gin.Context) {
	pool, err := s.engine.JuryPool(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, "failed to list jury assignments", err)
		return
	}

	resp := make([]assignmentResponse, len(pool))
	for i, entry := range pool {
		resp[i] = assignmentResponse{
			DisputeID:     entry.Assignment.DisputeID,
			Status:        entry.Status,
			AssignedAt:    entry.Assignment.AssignedAt,
			Tier2Deadline: entry.Tier2Deadline,
			Voted:         entry.Voted,
		}
	}
	c.JSON(http.StatusOK, gin.H{"assignments": resp})
}

func (s *Server) handleReconcile(c *gin.Context) {
	dryRun := false
	if raw := c.Query("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dry_run must be a boolean", "class": dispute.ClassPrecondition})
			return
		}
		dryRun = v
	}

	report, err := s.reconciler.Trigger(c.Request.Context(), dryRun)
	if err != nil {
		if errors.Is(err, reconciler.ErrPassInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "class": dispute.ClassTransient})
			return
		}
		writeError(c, "reconciler pass failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// writeError maps an engine error onto its HTTP status and class.
func writeError(c *gin.Context, msg string, err error) {
	class := dispute.ClassOf(err)
	status := http.StatusServiceUnavailable

	switch {
	case errors.Is(err, evidence.ErrInvalidItem), errors.Is(err, dispute.ErrInvalidDecision):
		class = dispute.ClassPrecondition
		status = http.StatusBadRequest
	case errors.Is(err, dispute.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispute.ErrNotAParty), errors.Is(err, dispute.ErrNotAJuror):
		status = http.StatusForbidden
	case class == dispute.ClassPrecondition:
		status = http.StatusConflict
	case class == dispute.ClassIntegrity:
		status = http.StatusInternalServerError
	}

	ctx := c.Request.Context()
	if status >= 500 {
		slog.ErrorContext(ctx, msg, "error", err, "class", class)
	} else {
		slog.DebugContext(ctx, msg, "error", err, "class", class)
	}
	c.JSON(status, gin.H{"error": err.Error(), "class": class})
}
