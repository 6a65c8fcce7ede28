// Copyright 2025 Forge Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package statemachine

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Event represents an event that triggers a state transition in the FSM.
// Events are optional - state transitions can also be triggered directly.
type Event string

// TransitionHook is triggered when a state transition occurs.
type TransitionHook[T comparable] func(from, to T, event Event) error

// StateHook is triggered when entering or exiting a state.
type StateHook[T comparable] func(state T) error

// TransitionRecord records a state transition in the FSM history.
type TransitionRecord[T comparable] struct {
	From      T
	To        T
	Event     Event
	Timestamp time.Time
	Error     error
}

// StateMachine is a generic finite state machine. It validates transitions
// against a declared transition table, runs enter/exit/transition hooks, and
// keeps a bounded transition history.
//
// The StateMachine is thread-safe and can be used concurrently.
type StateMachine[T comparable] struct {
	mu sync.RWMutex

	currentState T
	initialState T

	// from state -> list of valid next states
	validTransitions map[T][]T

	history        []TransitionRecord[T]
	maxHistorySize int

	onTransition []TransitionHook[T]
	onEnter      map[T][]StateHook[T]
	onExit       map[T][]StateHook[T]
}

// New creates a new StateMachine instance.
func New[T comparable]() *StateMachine[T] {
	return &StateMachine[T]{
		validTransitions: make(map[T][]T),
		onEnter:          make(map[T][]StateHook[T]),
		onExit:           make(map[T][]StateHook[T]),
		history:          make([]TransitionRecord[T], 0),
		maxHistorySize:   100,
	}
}

// NewWithState creates a new StateMachine with an initial state.
func NewWithState[T comparable](initialState T) *StateMachine[T] {
	sm := New[T]()
	sm.currentState = initialState
	sm.initialState = initialState
	return sm
}

// Allow registers valid state transitions from a source state.
func (sm *StateMachine[T]) Allow(from T, to ...T) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, target := range to {
		if !slices.Contains(sm.validTransitions[from], target) {
			sm.validTransitions[from] = append(sm.validTransitions[from], target)
		}
	}
	return sm
}

// CanTransition checks if a transition from one state to another is valid.
func (sm *StateMachine[T]) CanTransition(from, to T) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Contains(sm.validTransitions[from], to)
}

// Current returns the current state of the StateMachine.
func (sm *StateMachine[T]) Current() T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// SetCurrent sets the current state without triggering hooks.
// This is useful for initialization or recovery scenarios.
func (sm *StateMachine[T]) SetCurrent(state T) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.currentState = state
	if sm.initialState == *new(T) {
		sm.initialState = state
	}
}

// Initial returns the initial state of the StateMachine.
func (sm *StateMachine[T]) Initial() T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.initialState
}

// GetValidNextStates returns all valid next states from the given state.
func (sm *StateMachine[T]) GetValidNextStates(from T) []T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if states, ok := sm.validTransitions[from]; ok {
		result := make([]T, len(states))
		copy(result, states)
		return result
	}
	return []T{}
}

// History returns the transition history.
func (sm *StateMachine[T]) History() []TransitionRecord[T] {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]TransitionRecord[T], len(sm.history))
	copy(result, sm.history)
	return result
}

// OnTransition registers a hook that is called during any state transition.
func (sm *StateMachine[T]) OnTransition(h TransitionHook[T]) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onTransition = append(sm.onTransition, h)
	return sm
}

// OnEnter registers a hook that is called when entering a specific state.
func (sm *StateMachine[T]) OnEnter(state T, h StateHook[T]) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onEnter[state] = append(sm.onEnter[state], h)
	return sm
}

// OnExit registers a hook that is called when exiting a specific state.
func (sm *StateMachine[T]) OnExit(state T, h StateHook[T]) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onExit[state] = append(sm.onExit[state], h)
	return sm
}

// Transition performs a state transition from one state to another.
// It validates the transition, triggers hooks, and records history.
func (sm *StateMachine[T]) Transition(from, to T, event Event) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	startTime := time.Now()
	var transitionErr error

	defer func() {
		record := TransitionRecord[T]{
			From:      from,
			To:        to,
			Event:     event,
			Timestamp: startTime,
			Error:     transitionErr,
		}
		sm.history = append(sm.history, record)
		if len(sm.history) > sm.maxHistorySize {
			sm.history = sm.history[len(sm.history)-sm.maxHistorySize:]
		}
	}()

	if !slices.Contains(sm.validTransitions[from], to) {
		transitionErr = fmt.Errorf("invalid transition: %v → %v", from, to)
		return transitionErr
	}

	for _, h := range sm.onExit[from] {
		if err := h(from); err != nil {
			transitionErr = fmt.Errorf("exit hook failed for state %v: %w", from, err)
			return transitionErr
		}
	}

	for _, h := range sm.onTransition {
		if err := h(from, to, event); err != nil {
			transitionErr = fmt.Errorf("transition hook failed: %w", err)
			return transitionErr
		}
	}

	sm.currentState = to

	for _, h := range sm.onEnter[to] {
		if err := h(to); err != nil {
			transitionErr = fmt.Errorf("enter hook failed for state %v: %w", to, err)
			return transitionErr
		}
	}

	return nil
}

// TransitionTo performs a transition from the current state to the target state.
func (sm *StateMachine[T]) TransitionTo(to T) error {
	return sm.Transition(sm.Current(), to, "")
}

// Is checks if the current state matches the given state.
func (sm *StateMachine[T]) Is(state T) bool {
	return sm.Current() == state
}

// IsOneOf checks if the current state is one of the given states.
func (sm *StateMachine[T]) IsOneOf(states ...T) bool {
	return slices.Contains(states, sm.Current())
}
