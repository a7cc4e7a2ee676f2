// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrWalletAlreadyStarted is returned by Start on a running wallet.
	ErrWalletAlreadyStarted = errors.New("wallet already started")

	// ErrStateForbidden is returned when an operation cannot be performed
	// in the current lifecycle state.
	ErrStateForbidden = errors.New("operation forbidden in current state")
)

// lifecycle represents the lifecycle state of the wallet.
type lifecycle uint32

const (
	// lifecycleStopped indicates the wallet is stopped.
	lifecycleStopped lifecycle = iota

	// lifecycleStarting indicates the wallet is starting up.
	lifecycleStarting

	// lifecycleStarted indicates the wallet is started.
	lifecycleStarted

	// lifecycleStopping indicates the wallet is currently stopping.
	lifecycleStopping
)

// String returns the string representation of a lifecycle.
func (l lifecycle) String() string {
	switch l {
	case lifecycleStopped:
		return "stopped"

	case lifecycleStarting:
		return "starting"

	case lifecycleStarted:
		return "started"

	case lifecycleStopping:
		return "stopping"

	default:
		return "unknown lifecycle state"
	}
}

// walletState tracks whether the wallet runs. Builds and commits are only
// served while it is started, so a Stop waits for no new work to arrive.
type walletState struct {
	lifecycle atomic.Uint32
}

// String returns a summary of the wallet's state.
func (s *walletState) String() string {
	return fmt.Sprintf("status=%v", lifecycle(s.lifecycle.Load()))
}

// toStarting transitions the wallet state from Stopped to Starting.
func (s *walletState) toStarting() error {
	if !s.lifecycle.CompareAndSwap(
		uint32(lifecycleStopped), uint32(lifecycleStarting)) {

		return fmt.Errorf("%w: current state is %v",
			ErrWalletAlreadyStarted, lifecycle(s.lifecycle.Load()))
	}

	return nil
}

// toStarted marks the wallet as fully started.
func (s *walletState) toStarted() {
	s.lifecycle.Store(uint32(lifecycleStarted))
}

// toStopping transitions the wallet from Started to Stopping.
func (s *walletState) toStopping() error {
	if !s.lifecycle.CompareAndSwap(
		uint32(lifecycleStarted), uint32(lifecycleStopping)) {

		return ErrStateForbidden
	}

	return nil
}

// toStopped marks the wallet as fully stopped.
func (s *walletState) toStopped() {
	s.lifecycle.Store(uint32(lifecycleStopped))
}

// isStarted returns true if the wallet is in the Started state.
func (s *walletState) isStarted() bool {
	return lifecycle(s.lifecycle.Load()) == lifecycleStarted
}

// validateStarted checks if the wallet is currently running.
func (s *walletState) validateStarted() error {
	if !s.isStarted() {
		return fmt.Errorf("%w: %w", ErrWalletStopped, ErrStateForbidden)
	}

	return nil
}
