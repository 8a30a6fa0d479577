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

package input

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/moazbuilds/codemachine-orchestrator/internal/observability"
	"github.com/moazbuilds/codemachine-orchestrator/internal/workflow"
)

// remotePrompt is one directive handed from the HTTP handler to a blocked
// NextPrompt call.
type remotePrompt struct {
	text         string
	monitoringID int
}

// RemoteSession is a channel-backed ControllerSession fed by RemoteServer's
// HTTP handler, so a controller agent running as a separate network service
// drives AwaitInput the same way an in-process one does.
type RemoteSession struct {
	pending chan remotePrompt
}

// NewRemoteSession creates a RemoteSession ready to receive one prompt at a
// time via Submit.
func NewRemoteSession() *RemoteSession {
	return &RemoteSession{pending: make(chan remotePrompt, 1)}
}

// NextPrompt blocks until Submit delivers a prompt or ctx is cancelled.
func (s *RemoteSession) NextPrompt(ctx context.Context, sc workflow.StepContext) (string, int, error) {
	select {
	case p := <-s.pending:
		return p.text, p.monitoringID, nil
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
}

// Submit delivers a prompt received over HTTP to whichever NextPrompt call
// is currently blocked for this session.
func (s *RemoteSession) Submit(text string, monitoringID int) {
	s.pending <- remotePrompt{text: text, monitoringID: monitoringID}
}

type remotePromptRequest struct {
	Text         string `json:"text"`
	MonitoringID int    `json:"monitoringId"`
}

// RemoteServer exposes the HTTP endpoint a remote controller agent posts its
// next directive to. Every request is authenticated through the same
// ControllerProvider.ValidateRequestToken path AwaitInput itself relies on,
// so a step never unblocks on an unauthenticated prompt.
type RemoteServer struct {
	provider *ControllerProvider
	session  *RemoteSession
	obs      *observability.Manager
}

// NewRemoteServer builds a RemoteServer. obs may be nil, in which case
// requests are served unwrapped by tracing/metrics middleware.
func NewRemoteServer(provider *ControllerProvider, session *RemoteSession, obs *observability.Manager) *RemoteServer {
	return &RemoteServer{provider: provider, session: session, obs: obs}
}

// Handler returns the http.Handler to mount, wrapped with the shared
// tracing/metrics middleware when an observability Manager was configured.
func (s *RemoteServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/controller/prompt", s.handlePrompt)
	if s.obs == nil {
		return mux
	}
	return observability.HTTPMiddleware(s.obs.Tracer(), s.obs.Metrics())(mux)
}

func (s *RemoteServer) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := s.provider.ValidateRequestToken(r.Context(), token); err != nil {
		http.Error(w, `{"error":"unauthorized: `+err.Error()+`"}`, http.StatusUnauthorized)
		return
	}

	var req remotePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
		return
	}

	s.session.Submit(req.Text, req.MonitoringID)
	w.WriteHeader(http.StatusAccepted)
}
