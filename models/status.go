package models

import (
	"fmt"
	"strings"
)

// FrontStatus is the lifecycle state of a node.
//
//	ADDING -> CONFIG_READY -> STARTING -> RUNNING
//	RUNNING -> STOPPING -> STOPPED
//	STOPPED -> STARTING
//	RUNNING -> STARTING (restart)
//	any -> FAILED
//	FAILED -> STARTING | ADDING (operator retry)
//	STOPPED | FAILED -> DELETING -> DELETED
//
// DELETING and DELETED are never stored. Deleting a node checks the
// DELETING edge and removes the row in the same transaction, so a deleted
// node has no row left to carry DELETED.
type FrontStatus string

const (
	FrontAdding      FrontStatus = "ADDING"
	FrontConfigReady FrontStatus = "CONFIG_READY"
	FrontStarting    FrontStatus = "STARTING"
	FrontRunning     FrontStatus = "RUNNING"
	FrontStopping    FrontStatus = "STOPPING"
	FrontStopped     FrontStatus = "STOPPED"
	FrontFailed      FrontStatus = "FAILED"
	FrontDeleting    FrontStatus = "DELETING"
	FrontDeleted     FrontStatus = "DELETED"
)

var frontTransitions = map[FrontStatus][]FrontStatus{
	FrontAdding:      {FrontConfigReady},
	FrontConfigReady: {FrontStarting},
	FrontStarting:    {FrontRunning, FrontStopped},
	FrontRunning:     {FrontStopping, FrontStarting},
	FrontStopping:    {FrontStopped},
	FrontStopped:     {FrontStarting, FrontDeleting},
	FrontFailed:      {FrontStarting, FrontAdding, FrontDeleting},
	FrontDeleting:    {FrontDeleted},
	FrontDeleted:     nil,
}

// AllFrontStatuses lists every state in lifecycle order.
func AllFrontStatuses() []FrontStatus {
	return []FrontStatus{
		FrontAdding, FrontConfigReady, FrontStarting, FrontRunning,
		FrontStopping, FrontStopped, FrontFailed, FrontDeleting, FrontDeleted,
	}
}

// ParseFrontStatus converts a case-insensitive name into a FrontStatus.
func ParseFrontStatus(s string) (FrontStatus, error) {
	st := FrontStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := frontTransitions[st]; !ok {
		return "", fmt.Errorf("unknown front status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a member of the closed state set.
func (s FrontStatus) Valid() bool {
	_, ok := frontTransitions[s]
	return ok
}

// IsRunning reports whether the node is, or is about to be, serving.
func (s FrontStatus) IsRunning() bool {
	return s == FrontRunning || s == FrontStarting
}

// CanTransition reports whether from -> to is a legal edge.
// Every live state may fall to FAILED.
func CanTransition(from, to FrontStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == FrontFailed {
		return from != FrontDeleted && from != FrontFailed
	}
	for _, next := range frontTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for an illegal status change.
type TransitionError struct {
	From FrontStatus
	To   FrontStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal front status transition %s -> %s", e.From, e.To)
}

// ValidateTransition returns a *TransitionError when from -> to is illegal.
func ValidateTransition(from, to FrontStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
