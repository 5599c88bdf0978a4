package ratelimit

import (
	"strings"
	"sync"
	"time"
)

type Scope string

const (
	ScopeSubject Scope = "subject"
	ScopeTenant  Scope = "tenant"
)

type Quota struct {
	Limit  int
	Window time.Duration
}

type Result struct {
	OK        bool      `json:"ok"`
	Scope     Scope     `json:"scope"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type window struct {
	end   time.Time
	count int
}

// Limiter enforces two fixed-window quotas at once: one keyed by the request
// subject (session, else user, else address) and one keyed by the tenant
// account. State lives only in process memory and is reclaimed when windows
// expire; running more than one instance multiplies the effective caps, so a
// horizontally scaled deployment needs this state moved to a shared store.
type Limiter struct {
	mu      sync.Mutex
	subject Quota
	tenant  Quota
	windows map[string]*window
	stop    chan struct{}
}

func NewLimiter(subject, tenant Quota) *Limiter {
	if subject.Limit <= 0 {
		subject.Limit = 1
	}
	if subject.Window <= 0 {
		subject.Window = time.Minute
	}
	if tenant.Limit <= 0 {
		tenant.Limit = 1
	}
	if tenant.Window <= 0 {
		tenant.Window = time.Minute
	}
	return &Limiter{
		subject: subject,
		tenant:  tenant,
		windows: map[string]*window{},
	}
}

// Peek reports whether a call would currently be allowed without counting it.
func (l *Limiter) Peek(subjectKey, tenantKey string) Result {
	return l.check(subjectKey, tenantKey, false)
}

// Consume counts the call against both quotas when allowed. A call denied by
// either quota consumes neither.
func (l *Limiter) Consume(subjectKey, tenantKey string) Result {
	return l.check(subjectKey, tenantKey, true)
}

func (l *Limiter) check(subjectKey, tenantKey string, consume bool) Result {
	now := time.Now()
	if strings.TrimSpace(subjectKey) == "" {
		subjectKey = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sub := l.windowFor(ScopeSubject, subjectKey, l.subject, now)
	subRes := resultFor(ScopeSubject, l.subject, sub)

	var ten *window
	tenRes := Result{OK: true}
	if strings.TrimSpace(tenantKey) != "" {
		ten = l.windowFor(ScopeTenant, tenantKey, l.tenant, now)
		tenRes = resultFor(ScopeTenant, l.tenant, ten)
	}

	if !subRes.OK || !tenRes.OK {
		// The more restrictive, currently failing quota governs.
		if !subRes.OK {
			return subRes
		}
		return tenRes
	}

	if consume {
		// Admission was decided above; counting only updates the reported
		// remainder, never the verdict.
		sub.count++
		subRes = resultFor(ScopeSubject, l.subject, sub)
		subRes.OK = true
		if ten != nil {
			ten.count++
			tenRes = resultFor(ScopeTenant, l.tenant, ten)
			tenRes.OK = true
		}
	}

	// Both satisfied: the narrower remaining count picks the reported window.
	if ten != nil && tenRes.Remaining < subRes.Remaining {
		return tenRes
	}
	return subRes
}

func (l *Limiter) windowFor(scope Scope, key string, quota Quota, now time.Time) *window {
	mapKey := string(scope) + ":" + key
	w, ok := l.windows[mapKey]
	if !ok || !now.Before(w.end) {
		w = &window{end: now.Add(quota.Window)}
		l.windows[mapKey] = w
	}
	return w
}

func resultFor(scope Scope, quota Quota, w *window) Result {
	remaining := quota.Limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		OK:        w.count < quota.Limit,
		Scope:     scope,
		Limit:     quota.Limit,
		Remaining: remaining,
		ResetAt:   w.end,
	}
}

// StartGC reclaims expired windows on a timer until Stop is called.
func (l *Limiter) StartGC(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	l.mu.Lock()
	if l.stop != nil {
		l.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	l.stop = stop
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.reclaim(time.Now())
			}
		}
	}()
}

func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

func (l *Limiter) reclaim(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if !now.Before(w.end) {
			delete(l.windows, key)
		}
	}
}
