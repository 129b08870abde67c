package arbitration_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"disputeflow/arbitration"
	"disputeflow/audit"
	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/jury"
	"disputeflow/submission"
)

var _ = Describe("Engine", func() {
	var (
		ctx context.Context
		h   *harness
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness(7)
	})

	open := func(subID string, expectEvidence bool) dispute.Dispute {
		d, err := h.engine.Open(ctx, arbitration.OpenRequest{
			SubmissionID:   subID,
			OpenedBy:       "worker",
			Reason:         "work was delivered as specified",
			ExpectEvidence: expectEvidence,
		})
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	current := func(id string) dispute.Dispute {
		d, ok := h.store.Dispute(id)
		Expect(ok).To(BeTrue())
		return d
	}

	vote := func(id, juror string, choice jury.Choice) error {
		return h.engine.CastVote(ctx, arbitration.VoteRequest{DisputeID: id, JurorID: juror, Choice: choice})
	}

	panelOf := func(id string) []string {
		var ids []string
		for _, a := range h.store.Panel(id) {
			ids = append(ids, a.JurorID)
		}
		return ids
	}

	auditTypes := func(id string) []audit.Type {
		var types []audit.Type
		for _, e := range h.store.AuditTrail(id) {
			types = append(types, e.Type)
		}
		return types
	}

	Describe("Open", func() {
		It("rejects callers who are not a party", func() {
			h.addSubmission("sub", passAll)
			_, err := h.engine.Open(ctx, arbitration.OpenRequest{SubmissionID: "sub", OpenedBy: "juror-1"})
			Expect(err).To(MatchError(dispute.ErrNotAParty))
		})

		It("rejects submissions that are not disputable", func() {
			h.store.AddSubmission(submission.Submission{ID: "approved", WorkerID: "worker", RequesterID: "requester", Status: submission.StatusApproved})
			_, err := h.engine.Open(ctx, arbitration.OpenRequest{SubmissionID: "approved", OpenedBy: "worker"})
			Expect(err).To(MatchError(dispute.ErrIneligibleSubmission))
		})

		It("reports unknown submissions as not found", func() {
			_, err := h.engine.Open(ctx, arbitration.OpenRequest{SubmissionID: "missing", OpenedBy: "worker"})
			Expect(err).To(MatchError(dispute.ErrNotFound))
		})

		It("opens an evidence window and marks the submission disputed", func() {
			h.addSubmission("sub", passAll)
			d := open("sub", true)

			Expect(d.Status).To(Equal(dispute.StatusEvidencePending))
			Expect(d.OpenedBy).To(Equal(dispute.PartyWorker))
			Expect(*d.ActiveDeadline()).To(Equal(start.Add(72 * time.Hour)))
			sub, _ := h.store.Submission("sub")
			Expect(sub.Status).To(Equal(submission.StatusDisputed))
			Expect(auditTypes(d.ID)).To(Equal([]audit.Type{audit.TypeOpened}))

			_, err := h.engine.Open(ctx, arbitration.OpenRequest{SubmissionID: "sub", OpenedBy: "requester"})
			Expect(err).To(MatchError(dispute.ErrIneligibleSubmission))
		})

		It("runs Tier 1 immediately when no evidence is expected", func() {
			h.addSubmission("sub", passAll)
			d := open("sub", false)

			Expect(d.Status).To(Equal(dispute.StatusResolved))
			Expect(d.Resolution.Outcome).To(Equal(dispute.OutcomeWorkerWins))
			Expect(d.Resolution.Tier).To(Equal(dispute.Tier1))
			Expect(d.Resolution.Reason).To(Equal("Tier 1 Automated Resolution: 100.00 confidence"))
			Expect(d.SettledAt).NotTo(BeNil())
			Expect(h.ledger.Calls()).To(Equal([]string{
				"release:escrow-sub:worker:120",
				"release_stake:task-sub:worker",
				"dispute_resolved:" + d.ID + ":worker_wins:1",
			}))
		})
	})

	Describe("SubmitEvidence", func() {
		var id string

		BeforeEach(func() {
			h.addSubmission("sub", passAll)
			id = open("sub", true).ID
		})

		It("accepts evidence from either party during the window", func() {
			item, err := h.engine.SubmitEvidence(ctx, id, "requester", evidence.Item{Type: evidence.TypeText, Description: "photos are from last year"})
			Expect(err).NotTo(HaveOccurred())
			Expect(item.ID).NotTo(BeEmpty())
			Expect(item.SubmittedBy).To(Equal("requester"))
			Expect(auditTypes(id)).To(ContainElement(audit.TypeEvidenceSubmitted))
		})

		It("rejects outsiders", func() {
			_, err := h.engine.SubmitEvidence(ctx, id, "juror-1", evidence.Item{Type: evidence.TypeText, Description: "x"})
			Expect(err).To(MatchError(dispute.ErrNotAParty))
		})

		It("rejects evidence after the deadline", func() {
			h.advance(72 * time.Hour)
			_, err := h.engine.SubmitEvidence(ctx, id, "worker", evidence.Item{Type: evidence.TypeText, Description: "late"})
			Expect(err).To(MatchError(dispute.ErrEvidenceWindowClosed))
		})

		It("rejects malformed items before touching the dispute", func() {
			_, err := h.engine.SubmitEvidence(ctx, id, "worker", evidence.Item{Type: evidence.TypeImage, Description: "no key"})
			Expect(err).To(MatchError(evidence.ErrInvalidItem))
		})
	})

	Describe("ProcessTier1Result", func() {
		It("resolves for the requester on a failing score", func() {
			h.addSubmission("sub", failAll)
			id := open("sub", true).ID
			h.advance(72 * time.Hour)

			Expect(h.engine.ProcessTier1Result(ctx, id, h.clock)).To(Succeed())
			d := current(id)
			Expect(d.Resolution.Outcome).To(Equal(dispute.OutcomeRequesterWins))
			Expect(d.AutoScore.TotalScore).To(Equal(0.0))
			Expect(h.ledger.Calls()).To(ContainElement("slash_stake:task-sub:worker:5000"))
		})

		It("is processed once", func() {
			h.addSubmission("sub", passAll)
			id := open("sub", false).ID
			Expect(h.engine.ProcessTier1Result(ctx, id, h.clock)).To(MatchError(dispute.ErrAlreadyProcessed))
			Expect(h.ledger.Calls()).To(HaveLen(3))
		})

		It("seats a jury without the parties or their past counterparties", func() {
			h.store.AddSubmission(submission.Submission{ID: "history", WorkerID: "juror-7", RequesterID: "requester", Status: submission.StatusApproved})
			h.addSubmission("sub", leaningWorker)
			d := open("sub", false)

			Expect(d.Status).To(Equal(dispute.StatusTier2Voting))
			Expect(d.CurrentTier).To(Equal(dispute.Tier2))
			Expect(*d.Tier2Deadline).To(Equal(start.Add(48 * time.Hour)))
			Expect(d.AutoScore.TotalScore).To(Equal(60.0))

			panel := panelOf(d.ID)
			Expect(panel).To(HaveLen(5))
			Expect(panel).NotTo(ContainElement("worker"))
			Expect(panel).NotTo(ContainElement("requester"))
			Expect(panel).NotTo(ContainElement("juror-7"))
			Expect(auditTypes(d.ID)).To(ContainElement(audit.TypeTierChanged))
		})

		It("aborts and leaves the dispute in Tier 1 when the jury pool is too small", func() {
			h = newHarness(4)
			h.addSubmission("sub", leaningWorker)
			id := open("sub", true).ID
			h.advance(72 * time.Hour)

			err := h.engine.ProcessTier1Result(ctx, id, h.clock)
			Expect(err).To(MatchError(dispute.ErrInsufficientJurors))
			Expect(dispute.ClassOf(err)).To(Equal(dispute.ClassTransient))

			d := current(id)
			Expect(d.Status).To(Equal(dispute.StatusEvidencePending))
			Expect(d.AutoScore).To(BeNil())
		})
	})

	Describe("Tier 2 voting", func() {
		var (
			id    string
			panel []string
		)

		BeforeEach(func() {
			h.addSubmission("sub", evenScore)
			id = open("sub", false).ID
			panel = panelOf(id)
			Expect(panel).To(HaveLen(5))
		})

		It("resolves as soon as one side reaches quorum", func() {
			Expect(vote(id, panel[0], jury.ChoiceRequester)).To(Succeed())
			Expect(vote(id, panel[1], jury.ChoiceWorker)).To(Succeed())
			Expect(vote(id, panel[2], jury.ChoiceRequester)).To(Succeed())
			Expect(current(id).Status).To(Equal(dispute.StatusTier2Voting))

			Expect(vote(id, panel[3], jury.ChoiceRequester)).To(Succeed())
			d := current(id)
			Expect(d.Status).To(Equal(dispute.StatusResolved))
			Expect(d.Resolution.Tier).To(Equal(dispute.Tier2))
			Expect(d.Resolution.Outcome).To(Equal(dispute.OutcomeRequesterWins))
			Expect(d.SettledAt).NotTo(BeNil())

			Expect(vote(id, panel[4], jury.ChoiceWorker)).To(MatchError(dispute.ErrVotingClosed))
		})

		It("rejects non-jurors and second votes", func() {
			Expect(vote(id, "worker", jury.ChoiceWorker)).To(MatchError(dispute.ErrNotAJuror))
			Expect(vote(id, panel[0], jury.ChoiceWorker)).To(Succeed())
			Expect(vote(id, panel[0], jury.ChoiceRequester)).To(MatchError(dispute.ErrAlreadyVoted))
		})

		It("escalates a two-two-abstain panel to appeal with the Tier 1 lean", func() {
			Expect(vote(id, panel[0], jury.ChoiceWorker)).To(Succeed())
			Expect(vote(id, panel[1], jury.ChoiceWorker)).To(Succeed())
			Expect(vote(id, panel[2], jury.ChoiceRequester)).To(Succeed())
			Expect(vote(id, panel[3], jury.ChoiceRequester)).To(Succeed())
			Expect(vote(id, panel[4], jury.ChoiceAbstain)).To(Succeed())

			d := current(id)
			Expect(d.Status).To(Equal(dispute.StatusTier3Appeal))
			Expect(d.CurrentTier).To(Equal(dispute.Tier3))
			Expect(d.Escalation).NotTo(BeNil())
			Expect(d.Escalation.PreviousOutcome.Outcome).To(Equal(dispute.OutcomeSplit))
			Expect(*d.Escalation.PreviousOutcome.SplitPercentage).To(Equal(50))
			Expect(*d.Tier3Deadline).To(Equal(start.Add(72 * time.Hour)))
			Expect(d.TierHistory[len(d.TierHistory)-1].Details).To(HaveKeyWithValue("trigger", "deadlock"))
			Expect(dispute.TierMonotonic(d.TierHistory)).To(BeTrue())
		})

		It("escalates on deadline with the strict vote leader", func() {
			Expect(vote(id, panel[0], jury.ChoiceRequester)).To(Succeed())
			h.advance(48 * time.Hour)
			Expect(vote(id, panel[1], jury.ChoiceWorker)).To(MatchError(dispute.ErrVotingClosed))

			Expect(h.engine.CheckJuryVotingComplete(ctx, id, h.clock)).To(Succeed())
			d := current(id)
			Expect(d.Status).To(Equal(dispute.StatusTier3Appeal))
			Expect(d.Escalation.PreviousOutcome.Outcome).To(Equal(dispute.OutcomeRequesterWins))
		})

		It("leaves an undecided round alone before the deadline", func() {
			Expect(vote(id, panel[0], jury.ChoiceRequester)).To(Succeed())
			Expect(h.engine.CheckJuryVotingComplete(ctx, id, h.clock)).To(Succeed())
			Expect(current(id).Status).To(Equal(dispute.StatusTier2Voting))
		})
	})

	Describe("Tier 3 appeal", func() {
		var id string

		BeforeEach(func() {
			h.addSubmission("sub", leaningWorker)
			id = open("sub", false).ID
			h.advance(48 * time.Hour)
			Expect(h.engine.CheckJuryVotingComplete(ctx, id, h.clock)).To(Succeed())
			Expect(current(id).Escalation.PreviousOutcome.Outcome).To(Equal(dispute.OutcomeWorkerWins))
		})

		It("accepts one escalation stake from a party", func() {
			Expect(h.engine.Appeal(ctx, id, "juror-1", decimal.NewFromInt(5))).To(MatchError(dispute.ErrNotAParty))
			Expect(h.engine.Appeal(ctx, id, "requester", decimal.Zero)).To(MatchError(dispute.ErrInvalidDecision))
			Expect(h.engine.Appeal(ctx, id, "requester", decimal.NewFromInt(5))).To(Succeed())
			Expect(h.engine.Appeal(ctx, id, "worker", decimal.NewFromInt(5))).To(MatchError(dispute.ErrAlreadyAppealed))
			Expect(auditTypes(id)).To(ContainElement(audit.TypeAppealFiled))
		})

		It("marks an admin reversal and returns the stake", func() {
			Expect(h.engine.Appeal(ctx, id, "requester", decimal.NewFromInt(5))).To(Succeed())
			Expect(h.engine.AdminResolve(ctx, arbitration.AdminDecision{
				DisputeID: id,
				AdminID:   "admin",
				Verdict:   dispute.Verdict{Outcome: dispute.OutcomeRequesterWins},
				Reason:    "photos predate the task",
			})).To(Succeed())

			d := current(id)
			Expect(d.Resolution.Tier).To(Equal(dispute.Tier3))
			Expect(d.Resolution.AppealReversed).To(BeTrue())
			Expect(h.ledger.Calls()).To(ContainElement("return_escalation_stake:" + id + ":requester:5"))
		})

		It("keeps an admin ruling that matches the previous outcome unreversed", func() {
			Expect(h.engine.Appeal(ctx, id, "requester", decimal.NewFromInt(5))).To(Succeed())
			Expect(h.engine.AdminResolve(ctx, arbitration.AdminDecision{
				DisputeID: id,
				AdminID:   "admin",
				Verdict:   dispute.Verdict{Outcome: dispute.OutcomeWorkerWins},
			})).To(Succeed())

			Expect(current(id).Resolution.AppealReversed).To(BeFalse())
			Expect(h.ledger.Calls()).To(ContainElement("forfeit_escalation_stake:" + id + ":requester:5"))
		})

		It("refuses admin rulings after the window or on resolved disputes", func() {
			h.advance(72 * time.Hour)
			err := h.engine.AdminResolve(ctx, arbitration.AdminDecision{DisputeID: id, AdminID: "admin", Verdict: dispute.Verdict{Outcome: dispute.OutcomeWorkerWins}})
			Expect(err).To(MatchError(dispute.ErrAppealWindowClosed))

			Expect(h.engine.ApplyDefaultUphold(ctx, id, h.clock)).To(Succeed())
			err = h.engine.AdminResolve(ctx, arbitration.AdminDecision{DisputeID: id, AdminID: "admin", Verdict: dispute.Verdict{Outcome: dispute.OutcomeWorkerWins}})
			Expect(err).To(MatchError(dispute.ErrInvalidStatus))
		})

		It("upholds the previous outcome once the window lapses, exactly once", func() {
			Expect(h.engine.Appeal(ctx, id, "requester", decimal.NewFromInt(5))).To(Succeed())

			Expect(h.engine.ApplyDefaultUphold(ctx, id, h.clock.Add(71*time.Hour))).To(Succeed())
			Expect(current(id).Status).To(Equal(dispute.StatusTier3Appeal))

			h.advance(72 * time.Hour)
			Expect(h.engine.ApplyDefaultUphold(ctx, id, h.clock)).To(Succeed())
			d := current(id)
			Expect(d.Resolution.Outcome).To(Equal(dispute.OutcomeWorkerWins))
			Expect(d.Resolution.AppealReversed).To(BeFalse())
			Expect(d.Resolution.Tier).To(Equal(dispute.Tier3))
			calls := h.ledger.Calls()
			Expect(calls).To(ContainElement("forfeit_escalation_stake:" + id + ":requester:5"))

			Expect(h.engine.ApplyDefaultUphold(ctx, id, h.clock.Add(time.Hour))).To(Succeed())
			Expect(h.ledger.Calls()).To(Equal(calls))
		})

		It("reports a Tier 3 dispute without a previous outcome and leaves it untouched", func() {
			h.store.Rewrite(id, func(d *dispute.Dispute) { d.Escalation = nil })
			h.advance(72 * time.Hour)

			err := h.engine.ApplyDefaultUphold(ctx, id, h.clock)
			Expect(err).To(MatchError(dispute.ErrMissingPreviousOutcome))
			Expect(dispute.ClassOf(err)).To(Equal(dispute.ClassIntegrity))
			Expect(current(id).Status).To(Equal(dispute.StatusTier3Appeal))
			Expect(auditTypes(id)).To(ContainElement(audit.TypeIntegrityViolation))
		})

		It("audits a missing previous outcome once across repeated passes", func() {
			h.store.Rewrite(id, func(d *dispute.Dispute) { d.Escalation = nil })
			h.advance(72 * time.Hour)

			for range 3 {
				Expect(h.engine.ApplyDefaultUphold(ctx, id, h.clock)).To(MatchError(dispute.ErrMissingPreviousOutcome))
				h.advance(5 * time.Minute)
			}
			violations := 0
			for _, t := range auditTypes(id) {
				if t == audit.TypeIntegrityViolation {
					violations++
				}
			}
			Expect(violations).To(Equal(1))
		})
	})

	Describe("evidence across tiers", func() {
		It("returns submitted evidence verbatim after the dispute resolves at Tier 3", func() {
			h.addSubmission("sub", leaningWorker)
			id := open("sub", true).ID

			h.advance(time.Hour)
			first, err := h.engine.SubmitEvidence(ctx, id, "requester", evidence.Item{
				Type:        evidence.TypeImage,
				Description: "timestamp overlay shows the previous week",
				StorageKey:  ptr("evidence/requester/overlay.jpg"),
			})
			Expect(err).NotTo(HaveOccurred())
			h.advance(time.Hour)
			second, err := h.engine.SubmitEvidence(ctx, id, "worker", evidence.Item{
				Type:        evidence.TypeText,
				Description: "camera clock was never synced; GPS trace attached to the task",
			})
			Expect(err).NotTo(HaveOccurred())
			submitted := []evidence.Item{first, second}

			h.advance(70 * time.Hour)
			Expect(h.engine.ProcessTier1Result(ctx, id, h.clock)).To(Succeed())
			Expect(current(id).Status).To(Equal(dispute.StatusTier2Voting))

			h.advance(48 * time.Hour)
			Expect(h.engine.CheckJuryVotingComplete(ctx, id, h.clock)).To(Succeed())
			Expect(current(id).Status).To(Equal(dispute.StatusTier3Appeal))

			h.advance(72 * time.Hour)
			Expect(h.engine.ApplyDefaultUphold(ctx, id, h.clock)).To(Succeed())
			Expect(current(id).Status).To(Equal(dispute.StatusResolved))

			for _, caller := range []string{"worker", "requester", "admin"} {
				detail, err := h.engine.Detail(ctx, id, caller, caller == "admin")
				Expect(err).NotTo(HaveOccurred())
				Expect(detail.Evidence).To(Equal(submitted))
			}
		})
	})

	Describe("queries", func() {
		It("shows a dispute to parties, jurors and admins only", func() {
			h.store.AddUser(auth.User{ID: "stranger", Role: auth.RoleMember})
			h.addSubmission("sub", leaningWorker)
			id := open("sub", false).ID
			juror := panelOf(id)[0]
			Expect(vote(id, juror, jury.ChoiceWorker)).To(Succeed())

			detail, err := h.engine.Detail(ctx, id, juror, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.PanelSize).To(Equal(5))
			Expect(detail.VotesCast).To(Equal(1))

			_, err = h.engine.Detail(ctx, id, "admin", true)
			Expect(err).NotTo(HaveOccurred())
			_, err = h.engine.Detail(ctx, id, "stranger", false)
			Expect(err).To(MatchError(dispute.ErrNotAParty))

			pool, err := h.engine.JuryPool(ctx, juror)
			Expect(err).NotTo(HaveOccurred())
			Expect(pool).To(HaveLen(1))
			Expect(pool[0].Voted).To(BeTrue())
			Expect(pool[0].Status).To(Equal(dispute.StatusTier2Voting))
		})
	})
})
