// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmerr is the orchestrator's shared error taxonomy.
package cmerr

import "fmt"

// Kind tags an error with one of the taxonomy's eight categories.
type Kind string

const (
	KindConfigError          Kind = "ConfigError"
	KindEngineUnavailable    Kind = "EngineUnavailable"
	KindStartupFailure       Kind = "StartupFailure"
	KindRuntimeFailure       Kind = "RuntimeFailure"
	KindTimeout              Kind = "Timeout"
	KindCancelled            Kind = "Cancelled"
	KindDirectiveParseError  Kind = "DirectiveParseError"
	KindIndexCorruption      Kind = "IndexCorruption"
)

// Error wraps an underlying cause with a taxonomy Kind and, for
// StartupFailure/RuntimeFailure, the exported CM-E1xx code.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// StartupFailure builds the CM-E101 error for a missing file at launch
// time (subprocess binary or prompt file not found).
func StartupFailure(msg string, err error) *Error {
	return &Error{Kind: KindStartupFailure, Code: "CM-E101", Msg: msg, Err: err}
}

// RuntimeFailure builds the CM-E100 error for any other subprocess
// failure or unexpected exit.
func RuntimeFailure(msg string, err error) *Error {
	return &Error{Kind: KindRuntimeFailure, Code: "CM-E100", Msg: msg, Err: err}
}

// IsCancelled reports whether err represents a Cancelled outcome, which the
// propagation policy treats as a normal skip rather than a failure.
func IsCancelled(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindCancelled
}

// KindOf extracts the taxonomy Kind from err, defaulting to
// KindRuntimeFailure for errors that were never tagged by this package.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindRuntimeFailure
}
