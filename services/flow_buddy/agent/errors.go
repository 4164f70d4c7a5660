// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import "errors"

// Sentinel errors for the agent package.
var (
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminated indicates the session is already in a terminal state.
	ErrSessionTerminated = errors.New("session already terminated")

	// ErrSessionInProgress indicates the session is already being driven.
	ErrSessionInProgress = errors.New("session operation in progress")

	// ErrInvalidSession indicates the session or its configuration is invalid.
	ErrInvalidSession = errors.New("invalid session configuration")

	// ErrEmptyInstruction indicates the build request carries no instruction.
	ErrEmptyInstruction = errors.New("instruction must not be empty")

	// ErrIterationBudget indicates the iteration ceiling was reached.
	ErrIterationBudget = errors.New("iteration ceiling reached")

	// ErrFinalizeBudget indicates the auto-finalize ceiling was reached.
	ErrFinalizeBudget = errors.New("auto-finalize ceiling reached")

	// ErrCanceled indicates the session was cancelled externally.
	ErrCanceled = errors.New("session cancelled")

	// ErrTimeout indicates the session exceeded its total time budget.
	ErrTimeout = errors.New("session timed out")

	// ErrModelFailed indicates the model could not be called at all,
	// for reasons no amount of conversational feedback can repair.
	ErrModelFailed = errors.New("model call failed unrecoverably")
)
