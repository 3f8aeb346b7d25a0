package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/audit"
	"github.com/careline/careline/internal/domain/cases"
	"github.com/careline/careline/internal/platform/bus"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/errs"
)

type Service struct {
	tx            db.TxRunner
	caseRepo      cases.CaseRepository
	vitals        cases.VitalsRepository
	medications   cases.MedicationRepository
	symptoms      cases.SymptomRepository
	assessments   cases.AssessmentRepository
	advice        cases.AdviceRepository
	auditor       audit.Recorder
	publisher     cases.Publisher
	sbar          *SBARGenerator
	tokenTTL      time.Duration
	singleUse     bool
	portalBaseURL string
	logger        zerolog.Logger
}

func NewService(
	tx db.TxRunner,
	caseRepo cases.CaseRepository,
	vitals cases.VitalsRepository,
	medications cases.MedicationRepository,
	symptoms cases.SymptomRepository,
	assessments cases.AssessmentRepository,
	advice cases.AdviceRepository,
	auditor audit.Recorder,
	publisher cases.Publisher,
	sbar *SBARGenerator,
	tokenTTL time.Duration,
	singleUse bool,
	portalBaseURL string,
	logger zerolog.Logger,
) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		tx:            tx,
		caseRepo:      caseRepo,
		vitals:        vitals,
		medications:   medications,
		symptoms:      symptoms,
		assessments:   assessments,
		advice:        advice,
		auditor:       auditor,
		publisher:     publisher,
		sbar:          sbar,
		tokenTTL:      tokenTTL,
		singleUse:     singleUse,
		portalBaseURL: portalBaseURL,
		logger:        logger,
	}
}

// Escalate mints a token, transitions the case, generates the handover, and
// broadcasts the status change. The token mint and status transition commit
// together; the handover generator runs after commit and can never undo the
// escalation.
func (s *Service) Escalate(ctx context.Context, req *EscalateRequest, actor cases.Actor) (*EscalateResponse, error) {
	return s.escalate(ctx, req, actor, s.tokenTTL)
}

// escalate is the TTL-parameterized implementation; tests mint already
// expired tokens through it.
func (s *Service) escalate(ctx context.Context, req *EscalateRequest, actor cases.Actor, ttl time.Duration) (*EscalateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	caseID, err := uuid.Parse(req.CaseID)
	if err != nil {
		return nil, errs.Validation("escalation payload failed validation", map[string]string{"case_id": "must be a UUID"})
	}

	var (
		minted     MintedToken
		fromStatus cases.Status
	)

	err = s.tx(ctx, func(ctx context.Context) error {
		c, err := s.caseRepo.LockByID(ctx, caseID)
		if errors.Is(err, cases.ErrNotFound) {
			return errs.NotFound("case not found")
		}
		if err != nil {
			return err
		}
		if c.PHWID != actor.UserID {
			return errs.Forbidden("not authorized to escalate this case")
		}
		if !cases.CanTransition(c.Status, cases.StatusEscalated) {
			return errs.State(fmt.Sprintf("cannot escalate case in status %s", c.Status))
		}
		if _, err := s.assessments.LatestByCase(ctx, caseID); errors.Is(err, cases.ErrNotFound) {
			return errs.State("case has no risk assessment")
		} else if err != nil {
			return err
		}
		fromStatus = c.Status

		minted, err = mintToken(time.Now().UTC().Add(ttl))
		if err != nil {
			return err
		}

		c.Status = cases.StatusEscalated
		c.EscalationReason = &req.EscalationReason
		c.EscalationTokenHash = &minted.Hash
		c.EscalationExpiresAt = &minted.ExpiresAt
		if req.SpecialistID != nil {
			c.SpecialistID = req.SpecialistID
		}
		if err := s.caseRepo.SetEscalation(ctx, c); err != nil {
			return err
		}

		return s.auditor.Record(ctx, audit.Record{
			UserID:     actor.UserID,
			Action:     audit.ActionEscalationMint,
			Resource:   "case",
			ResourceID: &caseID,
			IPAddress:  optionalStr(actor.IPAddress),
			RequestID:  optionalStr(actor.RequestID),
			OldValues:  audit.Snapshot(map[string]string{"status": string(fromStatus)}),
			NewValues: audit.Snapshot(map[string]interface{}{
				"status":     string(cases.StatusEscalated),
				"expires_at": minted.ExpiresAt,
			}),
		})
	})
	if err != nil {
		return nil, err
	}

	// The escalation is committed. A client disconnect must not abort the
	// handover generation or the broadcast.
	bgCtx := context.WithoutCancel(ctx)

	sbar := s.generateAndPersistSBAR(bgCtx, caseID, req.EscalationReason)

	s.publisher.Publish(caseID.String(), bus.Event{
		Type:   bus.EventStatusUpdate,
		Status: string(cases.StatusEscalated),
	})

	return &EscalateResponse{
		CaseID:              caseID.String(),
		SpecialistMagicLink: fmt.Sprintf("%s/?token=%s", s.portalBaseURL, minted.Plain),
		SBAR:                sbar,
		EscalatedAt:         time.Now().UTC(),
	}, nil
}

func (s *Service) generateAndPersistSBAR(ctx context.Context, caseID uuid.UUID, reason string) SBAR {
	c, err := s.caseRepo.GetByID(ctx, caseID)
	if err != nil {
		s.logger.Error().Err(err).Str("case_id", caseID.String()).Msg("load case for handover")
		return SBAR{}
	}
	assessment, err := s.assessments.LatestByCase(ctx, caseID)
	if err != nil {
		s.logger.Error().Err(err).Str("case_id", caseID.String()).Msg("load assessment for handover")
		return SBAR{}
	}
	vitals, err := s.vitals.ListByCase(ctx, caseID)
	if err != nil {
		s.logger.Error().Err(err).Str("case_id", caseID.String()).Msg("load vitals for handover")
	}
	symptoms, _ := s.symptoms.ListByCase(ctx, caseID)
	meds, _ := s.medications.ListByCase(ctx, caseID)

	input := SBARInput{
		Case:             c,
		Assessment:       assessment,
		Symptoms:         symptoms,
		Medications:      meds,
		EscalationReason: reason,
	}
	if len(vitals) > 0 {
		input.Vitals = vitals[0]
	}

	sbar := s.sbar.Generate(ctx, input)

	if err := s.assessments.SetSBAR(ctx, assessment.ID,
		sbar.Situation, sbar.Background, sbar.Assessment, sbar.Recommendation); err != nil {
		s.logger.Error().Err(err).Str("case_id", caseID.String()).Msg("persist handover")
	}
	return sbar
}

// lookupByToken resolves a presented token to its case, enforcing the
// constant-time hash comparison and expiry.
func (s *Service) lookupByToken(ctx context.Context, token string) (*cases.Case, error) {
	if token == "" {
		return nil, errs.TokenInvalid("escalation token required")
	}
	c, err := s.caseRepo.GetByTokenHash(ctx, hashToken(token))
	if errors.Is(err, cases.ErrNotFound) {
		return nil, errs.TokenInvalid("unknown or revoked escalation token")
	}
	if err != nil {
		return nil, err
	}
	if c.EscalationTokenHash == nil || !tokenMatches(token, *c.EscalationTokenHash) {
		return nil, errs.TokenInvalid("unknown or revoked escalation token")
	}
	if c.EscalationExpiresAt == nil || time.Now().UTC().After(*c.EscalationExpiresAt) {
		return nil, errs.TokenInvalid("escalation token expired")
	}
	return c, nil
}

// Validate implements the live-event bus token check: it resolves a token
// to the case it grants access to.
func (s *Service) Validate(ctx context.Context, token string) (uuid.UUID, error) {
	c, err := s.lookupByToken(ctx, token)
	if err != nil {
		return uuid.Nil, err
	}
	return c.ID, nil
}

// Portal returns the full case bundle for a specialist. The first read of a
// freshly escalated case transitions it to specialist_reviewing.
func (s *Service) Portal(ctx context.Context, token string) (*PortalBundle, error) {
	var (
		c            *cases.Case
		transitioned bool
	)

	err := s.tx(ctx, func(ctx context.Context) error {
		found, err := s.lookupByToken(ctx, token)
		if err != nil {
			return err
		}
		c, err = s.caseRepo.LockByID(ctx, found.ID)
		if err != nil {
			return err
		}
		if !cases.AdviceAllowed(c.Status) {
			return errs.TokenInvalid(fmt.Sprintf("case is no longer open for review (status %s)", c.Status))
		}

		if c.Status == cases.StatusEscalated {
			if err := s.caseRepo.UpdateStatus(ctx, c.ID, cases.StatusSpecialistReviewing); err != nil {
				return err
			}
			if err := s.auditor.Record(ctx, audit.Record{
				UserID:     "specialist-token",
				Action:     audit.ActionTokenConsume,
				Resource:   "case",
				ResourceID: &c.ID,
				OldValues:  audit.Snapshot(map[string]string{"status": string(cases.StatusEscalated)}),
				NewValues:  audit.Snapshot(map[string]string{"status": string(cases.StatusSpecialistReviewing)}),
			}); err != nil {
				return err
			}
			c.Status = cases.StatusSpecialistReviewing
			transitioned = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.publisher.Publish(c.ID.String(), bus.Event{
			Type:   bus.EventStatusUpdate,
			Status: string(cases.StatusSpecialistReviewing),
		})
	}

	return s.buildBundle(ctx, c)
}

func (s *Service) buildBundle(ctx context.Context, c *cases.Case) (*PortalBundle, error) {
	vitals, err := s.vitals.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	symptoms, err := s.symptoms.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	meds, err := s.medications.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	assessment, err := s.assessments.LatestByCase(ctx, c.ID)
	if err != nil && !errors.Is(err, cases.ErrNotFound) {
		return nil, err
	}

	bundle := &PortalBundle{
		CaseID:           c.ID.String(),
		Status:           string(c.Status),
		ChiefComplaint:   c.ChiefComplaint,
		EscalationReason: c.EscalationReason,
		PatientSummary: PatientSummary{
			Age:      c.PatientAge,
			Sex:      c.PatientSex,
			Village:  c.Village,
			District: c.District,
			Flags:    c.Flags,
		},
		Symptoms:    symptoms,
		Medications: meds,
		Assessment:  assessment,
		PHWName:     derefOr(c.PHWName, "unknown"),
		Facility:    derefOr(c.Facility, "unknown"),
		EscalatedAt: timePtr(c.UpdatedAt),
	}
	if len(vitals) > 0 {
		bundle.Vitals = vitals[0]
	}
	if assessment != nil {
		bundle.SBAR = SBAR{
			Situation:      derefOr(assessment.SBARSituation, ""),
			Background:     derefOr(assessment.SBARBackground, ""),
			Assessment:     derefOr(assessment.SBARAssessment, ""),
			Recommendation: derefOr(assessment.SBARRecommendation, ""),
		}
	}
	return bundle, nil
}

// SubmitAdvice appends a specialist's advice and pushes it to the PHW.
// Token failures are 403 here, unlike the portal's 404.
func (s *Service) SubmitAdvice(ctx context.Context, token string, req *AdviceRequest, ip, requestID string) (*cases.Advice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var row *cases.Advice

	err := s.tx(ctx, func(ctx context.Context) error {
		found, err := s.lookupByToken(ctx, token)
		if err != nil {
			return adviceTokenError(err)
		}
		if req.CaseID != found.ID.String() {
			return errs.TokenInvalid("token does not grant access to this case").WithStatus(http.StatusForbidden)
		}

		c, err := s.caseRepo.LockByID(ctx, found.ID)
		if err != nil {
			return err
		}
		if !cases.AdviceAllowed(c.Status) {
			return errs.State(fmt.Sprintf("advice not permitted in status %s", c.Status))
		}
		assessment, err := s.assessments.LatestByCase(ctx, c.ID)
		if errors.Is(err, cases.ErrNotFound) {
			return errs.State("case has no risk assessment")
		} else if err != nil {
			return err
		}

		specialistID := derefOr(c.SpecialistID, "specialist")
		row = &cases.Advice{
			CaseID:            c.ID,
			AssessmentID:      assessment.ID,
			SpecialistID:      specialistID,
			AdviceType:        req.AdviceType,
			Notes:             req.Notes,
			MedicationsAdvise: emptyIfNil(req.MedicationsAdvised),
			Investigations:    emptyIfNil(req.Investigations),
			FollowUpHours:     req.FollowUpHours,
		}
		if err := s.advice.Create(ctx, row); err != nil {
			return err
		}

		if c.Status != cases.StatusAdvised {
			if err := s.caseRepo.UpdateStatus(ctx, c.ID, cases.StatusAdvised); err != nil {
				return err
			}
			if err := s.auditor.Record(ctx, audit.Record{
				UserID:     specialistID,
				Action:     audit.ActionCaseTransition,
				Resource:   "case",
				ResourceID: &c.ID,
				IPAddress:  optionalStr(ip),
				RequestID:  optionalStr(requestID),
				OldValues:  audit.Snapshot(map[string]string{"status": string(c.Status)}),
				NewValues:  audit.Snapshot(map[string]string{"status": string(cases.StatusAdvised)}),
			}); err != nil {
				return err
			}
		}

		if err := s.auditor.Record(ctx, audit.Record{
			UserID:     specialistID,
			Action:     audit.ActionAdviceAppend,
			Resource:   "advice",
			ResourceID: &row.ID,
			IPAddress:  optionalStr(ip),
			RequestID:  optionalStr(requestID),
			NewValues:  audit.Snapshot(row),
		}); err != nil {
			return err
		}

		if s.singleUse {
			if err := s.caseRepo.ClearEscalationToken(ctx, c.ID); err != nil {
				return err
			}
			if err := s.auditor.Record(ctx, audit.Record{
				UserID:     specialistID,
				Action:     audit.ActionTokenRevoke,
				Resource:   "case",
				ResourceID: &c.ID,
				RequestID:  optionalStr(requestID),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(row)
	s.publisher.Publish(row.CaseID.String(), bus.Event{
		Type:   bus.EventAdvicePush,
		Advice: payload,
	})
	return row, nil
}

// adviceTokenError converts a portal-flavoured token error (404) to the
// advice-submit status (403).
func adviceTokenError(err error) error {
	if e, ok := errs.As(err); ok && e.Kind == errs.KindTokenInvalid {
		return e.WithStatus(http.StatusForbidden)
	}
	return err
}

func optionalStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
