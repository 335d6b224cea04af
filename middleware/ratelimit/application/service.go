package application

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ranch-gateway/middleware/ratelimit/domain"
)

var (
	ErrEmptyUserID = errors.New("ratelimit: user id is required")

	errBypassDisabled = errors.New("bypass secret not configured")
	errBypassMismatch = errors.New("bypass credential mismatch")
)

// Service concentra a regra de aplicação do rate limit (admissão).
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Service é um valor imutável depois de montado; pode ser copiado e usado de
// várias goroutines. O único estado compartilhado é o Store.
type Service struct {
	Store    domain.WindowStore
	Policies *domain.PolicyTable
	// Lanes indexadas pelo nome pedido em AdmitRequest.Lane.
	Lanes map[string]domain.PriorityLane

	// BypassSecret vazio desliga o bypass de emergência.
	BypassSecret string
	// ScaleAnonymous aplica LoadFactor também ao tráfego anônimo (por IP).
	ScaleAnonymous bool

	// Stats recebe um evento por decisão (best-effort, não deve bloquear).
	Stats domain.StatsStore

	Now        func() time.Time
	NewAuditID func() string
}

// AdmitRequest é a entrada de Admit.
type AdmitRequest struct {
	Identity domain.Identity
	Class    domain.EndpointClass
	// Lane pede uma priority lane (ex.: "veterinary"); papel não elegível cai
	// no caminho padrão.
	Lane string
	// LoadFactor em (0,1) reduz a política só para esta checagem.
	LoadFactor float64
	// BypassToken é a credencial de emergência enviada pelo cliente.
	BypassToken string

	Method  string
	Path    string
	Pattern string
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Admit decide se a requisição entra. Sempre devolve uma decisão; erros do store
// viram negação (fail closed) com CodeAdmissionUnavailable.
func (s Service) Admit(ctx context.Context, req AdmitRequest) domain.Decision {
	now := s.now()

	if req.BypassToken != "" {
		if dec, ok := s.bypass(ctx, req, now); ok {
			return dec
		}
	}

	if s.Store == nil || s.Policies == nil {
		return domain.Decision{Allowed: true, Lane: domain.LaneStandard}
	}

	key, policy, lane, denyCode := s.resolve(req)

	res, err := s.Store.CheckAndIncrement(ctx, key, policy)
	if err == nil {
		err = checkResult(res, policy)
	}
	if err != nil {
		s.record(ctx, req, domain.StatsEvent{
			Kind: domain.EventStoreFault,
			Key:  key,
			Lane: lane,
			Code: domain.CodeAdmissionUnavailable,
			Err:  err,
			At:   now,
		})
		return domain.Decision{
			Lane:       lane,
			Key:        key,
			Policy:     policy,
			RetryAfter: time.Second,
			Code:       domain.CodeAdmissionUnavailable,
		}
	}

	dec := domain.Decision{
		Allowed:   res.Allowed,
		Lane:      lane,
		Key:       key,
		Policy:    policy,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt,
		TotalHits: res.TotalHits,
	}
	if !dec.Allowed {
		dec.RetryAfter = res.ResetAt.Sub(s.now())
		dec.Code = denyCode
	}

	s.record(ctx, req, domain.StatsEvent{
		Kind:    domain.EventAdmission,
		Key:     key,
		Lane:    lane,
		Allowed: dec.Allowed,
		Code:    dec.Code,
		At:      now,
	})
	return dec
}

// resolve escolhe chave e política: priority lane quando pedida e elegível,
// senão a política da classe (escalada localmente se houver LoadFactor).
func (s Service) resolve(req AdmitRequest) (domain.Key, domain.Policy, domain.Lane, string) {
	id := req.Identity

	if req.Lane != "" {
		if l, ok := s.Lanes[req.Lane]; ok && id.Authenticated() && l.Eligible(id.Role) {
			code := l.DenyCode
			if code == "" {
				code = domain.CodeRateLimitExceeded
			}
			return domain.PriorityKey(id, l.Name), l.Policy, domain.Lane(l.Name), code
		}
	}

	policy := s.Policies.Resolve(req.Class, id.EffectiveRole())
	if req.LoadFactor > 0 && (id.Authenticated() || s.ScaleAnonymous) {
		policy = policy.Scaled(req.LoadFactor)
	}
	return domain.KeyFor(id, req.Class), policy, domain.LaneStandard, domain.CodeRateLimitExceeded
}

// bypass honra a credencial inteira ou não honra nada: ok=false significa que a
// requisição segue para a admissão normal, sem nenhuma alteração.
func (s Service) bypass(ctx context.Context, req AdmitRequest, now time.Time) (domain.Decision, bool) {
	auditID := s.auditID()
	key := domain.KeyFor(req.Identity, req.Class)

	var reason error
	switch {
	case s.BypassSecret == "":
		reason = errBypassDisabled
	case subtle.ConstantTimeCompare([]byte(req.BypassToken), []byte(s.BypassSecret)) != 1:
		reason = errBypassMismatch
	}

	if reason != nil {
		s.record(ctx, req, domain.StatsEvent{
			Kind:    domain.EventBypassRefused,
			Key:     key,
			AuditID: auditID,
			Err:     reason,
			At:      now,
		})
		return domain.Decision{}, false
	}

	s.record(ctx, req, domain.StatsEvent{
		Kind:    domain.EventBypass,
		Key:     key,
		Lane:    domain.LaneBypass,
		Allowed: true,
		AuditID: auditID,
		At:      now,
	})
	return domain.Decision{Allowed: true, Lane: domain.LaneBypass, Key: key}, true
}

func (s Service) auditID() string {
	if s.NewAuditID != nil {
		return s.NewAuditID()
	}
	return uuid.NewString()
}

func (s Service) record(ctx context.Context, req AdmitRequest, ev domain.StatsEvent) {
	if s.Stats == nil {
		return
	}
	ev.Class = req.Class
	ev.UserID = req.Identity.UserID
	ev.Role = req.Identity.EffectiveRole()
	ev.Source = domain.NormalizeAddress(req.Identity.SourceAddress)
	ev.Method = req.Method
	ev.Path = req.Path
	ev.Pattern = req.Pattern
	_ = s.Stats.Record(ctx, ev)
}

// checkResult rejeita resultados que o store nunca deveria produzir.
func checkResult(res domain.WindowResult, p domain.Policy) error {
	switch {
	case res.TotalHits < 1:
		return fmt.Errorf("%w: totalHits=%d", domain.ErrStoreCorrupted, res.TotalHits)
	case res.Remaining < 0 || res.Remaining > p.MaxRequests:
		return fmt.Errorf("%w: remaining=%d max=%d", domain.ErrStoreCorrupted, res.Remaining, p.MaxRequests)
	case res.Allowed != (res.TotalHits <= p.MaxRequests):
		return fmt.Errorf("%w: allowed=%v hits=%d max=%d", domain.ErrStoreCorrupted, res.Allowed, res.TotalHits, p.MaxRequests)
	case res.ResetAt.IsZero():
		return fmt.Errorf("%w: zero resetAt", domain.ErrStoreCorrupted)
	}
	return nil
}

// ResetUser limpa os contadores de um usuário: uma classe, ou todas (class nil),
// incluindo as priority lanes.
func (s Service) ResetUser(ctx context.Context, userID string, class *domain.EndpointClass) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrEmptyUserID
	}
	if s.Store == nil {
		return nil
	}

	prefix := domain.UserKeyPrefix(userID)
	if class != nil {
		if err := s.Store.Reset(ctx, domain.Key(prefix+class.String())); err != nil {
			return fmt.Errorf("ratelimit: reset %s: %w", class, err)
		}
		return nil
	}

	if _, err := s.Store.ResetPrefix(ctx, prefix); err != nil {
		return fmt.Errorf("ratelimit: reset user: %w", err)
	}
	if _, err := s.Store.ResetPrefix(ctx, "priority:"+prefix); err != nil {
		return fmt.Errorf("ratelimit: reset user priority lanes: %w", err)
	}
	return nil
}

// WindowStats devolve o snapshot do store (vazio se rate limit desligado).
func (s Service) WindowStats(ctx context.Context) (domain.Stats, error) {
	if s.Store == nil {
		return domain.Stats{TopConsumers: []domain.Consumer{}}, nil
	}
	return s.Store.Stats(ctx)
}
