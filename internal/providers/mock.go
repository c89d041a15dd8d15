package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Mock adapters use deterministic data and a configurable latency to mimic
// real-world calls. Scripted outcomes:
//
//   - MockIdentityVerifier rejects when the subject's full name contains
//     "blurry" (case-insensitive), mimicking an unreadable document.
//   - MockPhoneVerifier accepts any code except "000000".
//   - MockBackgroundChecker flags subjects whose full name contains "flagged"
//     and reports one "running" poll before settling, so callers exercise
//     their polling path.

// MockIdentityVerifier is a deterministic IdentityVerifier.
type MockIdentityVerifier struct {
	Latency time.Duration

	seq atomic.Uint64
}

func (m *MockIdentityVerifier) VerifyDocument(_ context.Context, subject Subject, document, selfie Image) (DocumentVerdict, error) {
	time.Sleep(m.Latency)
	reference := fmt.Sprintf("doc-%d", m.seq.Add(1))
	if len(document.Content) == 0 || len(selfie.Content) == 0 {
		return DocumentVerdict{Verified: false, Reason: "empty_image", Reference: reference}, nil
	}
	if strings.Contains(strings.ToLower(subject.FullName), "blurry") {
		return DocumentVerdict{Verified: false, Reason: "document_unreadable", Reference: reference}, nil
	}
	return DocumentVerdict{Verified: true, Reference: reference}, nil
}

// MockPhoneVerifier is a deterministic PhoneVerifier.
type MockPhoneVerifier struct {
	Latency time.Duration
	// TTL overrides the advertised challenge validity; zero advertises none
	// so the engine default applies.
	TTL time.Duration

	seq atomic.Uint64
}

func (m *MockPhoneVerifier) RequestCode(_ context.Context, phone string) (PhoneChallenge, error) {
	time.Sleep(m.Latency)
	return PhoneChallenge{
		Reference: fmt.Sprintf("otp-%s-%d", digitsSuffix(phone), m.seq.Add(1)),
		TTL:       m.TTL,
	}, nil
}

func (m *MockPhoneVerifier) VerifyCode(_ context.Context, reference, code string) (CodeCheck, error) {
	time.Sleep(m.Latency)
	if code == "000000" {
		return CodeCheck{Verified: false, Reason: "code_mismatch"}, nil
	}
	return CodeCheck{Verified: true}, nil
}

// MockBackgroundChecker is a deterministic BackgroundChecker.
type MockBackgroundChecker struct {
	Latency time.Duration

	mu     sync.Mutex
	seq    uint64
	checks map[string]mockCheck
}

type mockCheck struct {
	flagged bool
	polls   int
}

func (m *MockBackgroundChecker) InitiateCheck(_ context.Context, subject Subject) (BackgroundReport, error) {
	time.Sleep(m.Latency)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checks == nil {
		m.checks = make(map[string]mockCheck)
	}
	m.seq++
	reference := fmt.Sprintf("bgc-%d", m.seq)
	m.checks[reference] = mockCheck{
		flagged: strings.Contains(strings.ToLower(subject.FullName), "flagged"),
	}
	return BackgroundReport{Reference: reference, State: BackgroundRunning}, nil
}

func (m *MockBackgroundChecker) CheckStatus(_ context.Context, reference string) (BackgroundReport, error) {
	time.Sleep(m.Latency)
	m.mu.Lock()
	defer m.mu.Unlock()
	check, ok := m.checks[reference]
	if !ok {
		return BackgroundReport{}, fmt.Errorf("unknown check %s", reference)
	}
	check.polls++
	m.checks[reference] = check
	if check.polls < 2 {
		return BackgroundReport{Reference: reference, State: BackgroundRunning}, nil
	}
	if check.flagged {
		return BackgroundReport{Reference: reference, State: BackgroundFlagged, Reason: "record_found"}, nil
	}
	return BackgroundReport{Reference: reference, State: BackgroundClear}, nil
}

// digitsSuffix keeps the last four digits for a readable mock reference
// without embedding the full phone number anywhere.
func digitsSuffix(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) <= 4 {
		return digits
	}
	return digits[len(digits)-4:]
}
