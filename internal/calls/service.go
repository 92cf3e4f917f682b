package calls

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service is the call session store. It owns the session state machine and
// the call log timeline; it never touches agent presence.
type Service struct {
	repo Repository
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

type NewLog struct {
	Direction      Direction
	From           string
	To             string
	Trunk          string
	ProviderCallID string
}

// CreateLog records a new call in status initiated.
func (s *Service) CreateLog(ctx context.Context, tenantID string, in NewLog) (CallLog, error) {
	if tenantID == "" || strings.TrimSpace(in.To) == "" {
		return CallLog{}, ErrInvalidArgument
	}
	if in.Direction != DirectionInbound && in.Direction != DirectionOutbound {
		return CallLog{}, ErrInvalidArgument
	}
	now := s.now()
	l := CallLog{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Direction:      in.Direction,
		From:           in.From,
		To:             in.To,
		Trunk:          in.Trunk,
		ProviderCallID: in.ProviderCallID,
		Status:         LogStatusInitiated,
		FlowEvents:     []FlowEvent{{At: now, Type: "created", Detail: string(in.Direction)}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertLog(ctx, l); err != nil {
		return CallLog{}, err
	}
	return l, nil
}

func (s *Service) GetLog(ctx context.Context, tenantID, id string) (CallLog, error) {
	return s.repo.GetLog(ctx, tenantID, id)
}

func (s *Service) GetLogByProviderID(ctx context.Context, providerCallID string) (CallLog, error) {
	return s.repo.GetLogByProviderID(ctx, providerCallID)
}

// AttachProviderID stores the telephony control plane's call id on the log.
func (s *Service) AttachProviderID(ctx context.Context, tenantID, logID, providerCallID string) (CallLog, error) {
	if providerCallID == "" {
		return CallLog{}, ErrInvalidArgument
	}
	now := s.now()
	return s.repo.UpdateLog(ctx, tenantID, logID, func(l *CallLog) error {
		l.ProviderCallID = providerCallID
		l.UpdatedAt = now
		return nil
	})
}

// UpdateLogStatus applies a carrier status. durationSeconds < 0 leaves the duration unchanged.
func (s *Service) UpdateLogStatus(ctx context.Context, tenantID, logID string, status LogStatus, durationSeconds int) (CallLog, error) {
	if !status.Valid() {
		return CallLog{}, ErrInvalidArgument
	}
	now := s.now()
	return s.repo.UpdateLog(ctx, tenantID, logID, func(l *CallLog) error {
		if l.Status != status {
			l.FlowEvents = append(l.FlowEvents, FlowEvent{At: now, Type: "status", Detail: string(status)})
		}
		l.Status = status
		if durationSeconds >= 0 {
			l.DurationSeconds = durationSeconds
		}
		l.UpdatedAt = now
		return nil
	})
}

// AppendFlowEvent adds one entry to the log's timeline.
func (s *Service) AppendFlowEvent(ctx context.Context, tenantID, logID, typ, detail string) (CallLog, error) {
	if typ == "" {
		return CallLog{}, ErrInvalidArgument
	}
	now := s.now()
	return s.repo.UpdateLog(ctx, tenantID, logID, func(l *CallLog) error {
		l.FlowEvents = append(l.FlowEvents, FlowEvent{At: now, Type: typ, Detail: detail})
		l.UpdatedAt = now
		return nil
	})
}

type NewSession struct {
	// ID may be preset by callers that reserve an agent before the session exists.
	ID        string
	CallLogID string
	AgentID   *string
	ContactID *string
	QueueID   *string
	// Status is INITIATED unless set; only INITIATED and RINGING are accepted.
	Status SessionStatus
}

func (s *Service) Create(ctx context.Context, tenantID string, in NewSession) (Session, error) {
	if tenantID == "" || in.CallLogID == "" {
		return Session{}, ErrInvalidArgument
	}
	if in.Status == "" {
		in.Status = SessionInitiated
	}
	if in.Status != SessionInitiated && in.Status != SessionRinging {
		return Session{}, fmt.Errorf("create session in %s: %w", in.Status, ErrInvalidTransition)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := s.now()
	sess := Session{
		ID:              in.ID,
		TenantID:        tenantID,
		CallLogID:       in.CallLogID,
		AgentID:         copyStr(in.AgentID),
		ContactID:       copyStr(in.ContactID),
		QueueID:         copyStr(in.QueueID),
		Status:          in.Status,
		StartedAt:       now,
		TransferHistory: []TransferEntry{},
		UpdatedAt:       now,
	}
	if err := s.repo.InsertSession(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *Service) Get(ctx context.Context, tenantID, sessionID string) (Session, error) {
	return s.repo.GetSession(ctx, tenantID, sessionID)
}

// Transition moves the session to next. Entering CONNECTED stamps AnsweredAt
// and entering ENDED stamps EndedAt and computes the duration; neither is
// re-stamped once set.
func (s *Service) Transition(ctx context.Context, tenantID, sessionID string, next SessionStatus) (Session, error) {
	if !next.Valid() {
		return Session{}, ErrInvalidArgument
	}
	now := s.now()
	return s.repo.UpdateSession(ctx, tenantID, sessionID, func(sess *Session) error {
		if !CanTransition(sess.Status, next) {
			return fmt.Errorf("%s -> %s: %w", sess.Status, next, ErrInvalidTransition)
		}
		sess.Status = next
		switch next {
		case SessionConnected:
			if sess.AnsweredAt == nil {
				sess.AnsweredAt = &now
			}
		case SessionEnded:
			if sess.EndedAt == nil {
				sess.EndedAt = &now
			}
			sess.DurationSeconds = duration(sess.AnsweredAt, sess.EndedAt)
		}
		sess.UpdatedAt = now
		return nil
	})
}

// RecordNotes is a partial update; nil fields are left unchanged.
func (s *Service) RecordNotes(ctx context.Context, tenantID, sessionID string, notes, disposition *string) (Session, error) {
	now := s.now()
	return s.repo.UpdateSession(ctx, tenantID, sessionID, func(sess *Session) error {
		if notes != nil {
			sess.Notes = *notes
		}
		if disposition != nil {
			sess.Disposition = *disposition
		}
		sess.UpdatedAt = now
		return nil
	})
}

func (s *Service) AppendTransferHistory(ctx context.Context, tenantID, sessionID, from, to string) (Session, error) {
	if to == "" {
		return Session{}, ErrInvalidArgument
	}
	now := s.now()
	return s.repo.UpdateSession(ctx, tenantID, sessionID, func(sess *Session) error {
		sess.TransferHistory = append(sess.TransferHistory, TransferEntry{From: from, To: to, At: now})
		sess.UpdatedAt = now
		return nil
	})
}

// Reassign moves a live session to another agent, or unassigns it when agentID is nil.
func (s *Service) Reassign(ctx context.Context, tenantID, sessionID string, agentID *string) (Session, error) {
	now := s.now()
	return s.repo.UpdateSession(ctx, tenantID, sessionID, func(sess *Session) error {
		if sess.Status == SessionEnded {
			return fmt.Errorf("reassign ended session: %w", ErrInvalidTransition)
		}
		sess.AgentID = copyStr(agentID)
		sess.UpdatedAt = now
		return nil
	})
}

// FindActiveForAgent returns the agent's RINGING, CONNECTED or ON_HOLD session, or nil.
func (s *Service) FindActiveForAgent(ctx context.Context, tenantID, agentID string) (*Session, error) {
	list, err := s.repo.ListSessions(ctx, tenantID, SessionFilter{
		Statuses: ActiveStatuses,
		AgentIDs: []string{agentID},
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	sess := list[len(list)-1]
	return &sess, nil
}

func (s *Service) Count(ctx context.Context, tenantID string, f SessionFilter) (int, error) {
	return s.repo.CountSessions(ctx, tenantID, f)
}

func (s *Service) List(ctx context.Context, tenantID string, f SessionFilter) ([]Session, error) {
	return s.repo.ListSessions(ctx, tenantID, f)
}

// duration is ended - answered in whole seconds, zero when never answered.
func duration(answeredAt, endedAt *time.Time) int {
	if answeredAt == nil || endedAt == nil {
		return 0
	}
	d := endedAt.Sub(*answeredAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
