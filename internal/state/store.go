// Package state implements the sectioned session state store that every
// runtime component reads from and writes to.
//
// The store holds a fixed, closed set of named sections. Readers get
// structurally independent copies, writers supply pure transforms, and
// subscribers are notified in subscription order after each real change.
// All store errors carry dErrors.CodeStateMisuse: misuse is a programming
// bug, not a runtime condition to branch on.
package state

import (
	"cmp"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	dErrors "guestgate/pkg/domain-errors"
)

// Section names one slice of session state.
type Section string

// The closed section set. New sections are a code change, never a runtime
// registration.
const (
	SectionAuth          Section = "auth"
	SectionSession       Section = "session"
	SectionForm          Section = "form"
	SectionChannels      Section = "channels"
	SectionResults       Section = "results"
	SectionNotifications Section = "ui-notifications"

	// SectionAll is a subscription target only: the callback observes every
	// section. It cannot be read or written.
	SectionAll Section = "all"
)

// sectionOrder fixes a canonical order for operations that touch every
// section, such as the immediate fire of an all-subscription.
var sectionOrder = []Section{
	SectionAuth,
	SectionSession,
	SectionForm,
	SectionChannels,
	SectionResults,
	SectionNotifications,
}

// Value is the contract a section's content must satisfy: it can produce a
// structurally independent copy of itself. Mutating a clone never affects
// the stored value, and mutating a value after handing it to the store
// never affects what the store holds.
type Value interface {
	Clone() Value
}

// Callback observes section changes. The value is a private copy; the
// callback may keep or mutate it freely.
type Callback func(section Section, value Value)

type subscription struct {
	id      uint64
	section Section
	fn      Callback
}

// Store is the sectioned state container. Safe for concurrent use.
//
// Writes are atomic with respect to notification: the full new section value
// is committed before any subscriber runs, so a subscriber that reads back
// always sees the state it was notified about (or something newer). The lock
// is never held during callbacks, so subscribers may freely call Get, Apply,
// or Subscribe; nested writes notify depth-first.
type Store struct {
	logger *slog.Logger

	mu       sync.Mutex
	sections map[Section]Value
	subs     map[Section][]*subscription
	nextSub  uint64
}

// New builds a store seeded with exactly the closed section set. Missing
// sections, unknown sections, and nil values all fail: a partially wired
// store is a deployment bug worth failing fast on.
//
// Error Contract:
//   - CodeStateMisuse: seed does not cover exactly the known sections, or a
//     section value is nil
func New(logger *slog.Logger, seed map[Section]Value) (*Store, error) {
	if len(seed) != len(sectionOrder) {
		return nil, dErrors.Newf(dErrors.CodeStateMisuse,
			"store needs exactly %d sections, got %d", len(sectionOrder), len(seed))
	}
	sections := make(map[Section]Value, len(sectionOrder))
	for _, section := range sectionOrder {
		v, ok := seed[section]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeStateMisuse, "missing section %q", section)
		}
		if v == nil {
			return nil, dErrors.Newf(dErrors.CodeStateMisuse, "nil value for section %q", section)
		}
		sections[section] = v.Clone()
	}
	return &Store{
		logger:   logger,
		sections: sections,
		subs:     make(map[Section][]*subscription),
	}, nil
}

// Get returns a structurally independent copy of a section's current value.
//
// Error Contract:
//   - CodeStateMisuse: unknown section, or SectionAll
func (s *Store) Get(section Section) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sections[section]
	if !ok {
		return nil, unknownSection(section)
	}
	return current.Clone(), nil
}

// Apply runs a transform against a copy of the section's current value and
// commits the result. The transform must be pure: it receives a private
// copy, returns the full next value, and must not touch the store.
//
// If the transform errors, nothing changes and the error is returned as-is.
// If the result is deeply equal to the current value the write is a no-op:
// nothing is stored and no subscriber fires. Otherwise the new value is
// committed and subscribers of the section (and of SectionAll) are invoked
// in subscription order, each with its own copy.
//
// Returns whether a change was committed.
//
// Error Contract:
//   - CodeStateMisuse: unknown section, SectionAll, or a transform that
//     returned nil
//   - any error the transform returned
func (s *Store) Apply(section Section, transform func(Value) (Value, error)) (bool, error) {
	s.mu.Lock()
	current, ok := s.sections[section]
	if !ok {
		s.mu.Unlock()
		return false, unknownSection(section)
	}

	next, err := transform(current.Clone())
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if next == nil {
		s.mu.Unlock()
		return false, dErrors.Newf(dErrors.CodeStateMisuse,
			"transform for section %q returned nil", section)
	}
	if reflect.DeepEqual(current, next) {
		s.mu.Unlock()
		return false, nil
	}

	s.sections[section] = next.Clone()
	targets := s.watchersLocked(section)
	s.mu.Unlock()

	for _, sub := range targets {
		s.deliver(sub, section, next.Clone())
	}
	return true, nil
}

// Subscribe registers a callback for one section, or for every section via
// SectionAll. The callback fires once immediately with the current value
// (once per section, in canonical order, for SectionAll), then on every
// subsequent change, in subscription order relative to other subscribers.
//
// The returned cancel function is idempotent and safe to call from inside
// the callback itself.
//
// Error Contract:
//   - CodeStateMisuse: unknown section
func (s *Store) Subscribe(section Section, fn Callback) (func(), error) {
	if section != SectionAll && !slices.Contains(sectionOrder, section) {
		return nil, unknownSection(section)
	}

	s.mu.Lock()
	s.nextSub++
	sub := &subscription{id: s.nextSub, section: section, fn: fn}
	s.subs[section] = append(s.subs[section], sub)

	// Snapshot the current values for the immediate fire while still inside
	// the lock, so the first delivery cannot observe a later write as its
	// "initial" state and then be notified about it again out of order.
	type firing struct {
		section Section
		value   Value
	}
	var initial []firing
	if section == SectionAll {
		for _, sec := range sectionOrder {
			initial = append(initial, firing{sec, s.sections[sec].Clone()})
		}
	} else {
		initial = append(initial, firing{section, s.sections[section].Clone()})
	}
	s.mu.Unlock()

	for _, entry := range initial {
		s.deliver(sub, entry.section, entry.value)
	}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[sub.section]
		for i, candidate := range list {
			if candidate.id == sub.id {
				s.subs[sub.section] = slices.Delete(list, i, i+1)
				return
			}
		}
	}
	return cancel, nil
}

// watchersLocked returns the subscribers to notify for a change to section:
// its own subscribers merged with the all-subscribers, ordered by
// subscription id so delivery order matches subscription order globally.
func (s *Store) watchersLocked(section Section) []*subscription {
	own := s.subs[section]
	all := s.subs[SectionAll]
	merged := make([]*subscription, 0, len(own)+len(all))
	merged = append(merged, own...)
	merged = append(merged, all...)
	slices.SortFunc(merged, func(a, b *subscription) int {
		return cmp.Compare(a.id, b.id)
	})
	return merged
}

// deliver invokes one callback with panic isolation: a throwing subscriber
// is logged and skipped, later subscribers still run.
func (s *Store) deliver(sub *subscription, section Section, value Value) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state subscriber panicked",
				"section", string(section),
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()
	sub.fn(section, value)
}

func unknownSection(section Section) error {
	return dErrors.Newf(dErrors.CodeStateMisuse, "unknown state section %q", section)
}

// Get returns a typed copy of a section. A section holding a different
// concrete type is a wiring bug and fails with CodeStateMisuse.
func Get[T Value](s *Store, section Section) (T, error) {
	var zero T
	v, err := s.Get(section)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, dErrors.Newf(dErrors.CodeStateMisuse,
			"section %q holds %T, not %T", section, v, zero)
	}
	return typed, nil
}

// Update applies a typed transform to a section. It is the usual write path:
// callers work with their section's concrete type and the deep-equality
// no-op and notification semantics of Apply carry over unchanged.
func Update[T Value](s *Store, section Section, fn func(T) T) (bool, error) {
	return s.Apply(section, func(v Value) (Value, error) {
		typed, ok := v.(T)
		if !ok {
			var zero T
			return nil, dErrors.Newf(dErrors.CodeStateMisuse,
				"section %q holds %T, not %T", section, v, zero)
		}
		return fn(typed), nil
	})
}
