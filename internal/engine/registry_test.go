package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moazbuilds/codemachine-orchestrator/internal/authcache"
)

type fakeEngine struct {
	name   string
	authed bool
}

func (f *fakeEngine) Name() string       { return f.name }
func (f *fakeEngine) Provider() Provider { return ProviderClaude }
func (f *fakeEngine) Run(ctx context.Context, prompt string, opts RunOptions) (RunResult, error) {
	return RunResult{}, nil
}
func (f *fakeEngine) IsAuthenticated(ctx context.Context) (bool, error)  { return f.authed, nil }
func (f *fakeEngine) ConfigureMCP(ctx context.Context, workflowDir string) error { return nil }
func (f *fakeEngine) CleanupMCP(ctx context.Context, workflowDir string) error   { return nil }
func (f *fakeEngine) IsMCPConfigured(workflowDir string) bool                    { return false }

func TestRegistry_OrderedPreservesDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("b", &fakeEngine{name: "b"})
	r.Register("a", &fakeEngine{name: "a"})
	r.Register("b", &fakeEngine{name: "b-replaced"})

	names := make([]string, 0)
	for _, e := range r.Ordered() {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{"b-replaced", "a"}, names)
}

func TestSelect_PrefersAuthenticatedStepEngine(t *testing.T) {
	r := NewRegistry()
	r.Register("claude", &fakeEngine{name: "claude", authed: true})
	r.Register("codex", &fakeEngine{name: "codex", authed: true})

	cache := authcache.New(time.Minute)
	e, err := Select(context.Background(), r, cache, "codex", nil)
	require.NoError(t, err)
	require.Equal(t, "codex", e.Name())
}

func TestSelect_FallsBackWhenStepEngineUnauthenticated(t *testing.T) {
	r := NewRegistry()
	r.Register("claude", &fakeEngine{name: "claude", authed: true})
	r.Register("codex", &fakeEngine{name: "codex", authed: false})

	cache := authcache.New(time.Minute)
	var warned string
	e, err := Select(context.Background(), r, cache, "codex", func(f string, args ...interface{}) { warned = f })
	require.NoError(t, err)
	require.Equal(t, "claude", e.Name())
	require.NotEmpty(t, warned)
}

func TestSelect_FallsBackToDefaultWhenNoneAuthenticated(t *testing.T) {
	r := NewRegistry()
	r.Register("claude", &fakeEngine{name: "claude", authed: false})
	r.Register("codex", &fakeEngine{name: "codex", authed: false})
	r.SetDefault("codex")

	cache := authcache.New(time.Minute)
	e, err := Select(context.Background(), r, cache, "", nil)
	require.NoError(t, err)
	require.Equal(t, "codex", e.Name())
}

func TestSelect_EmptyRegistryFails(t *testing.T) {
	r := NewRegistry()
	cache := authcache.New(time.Minute)
	_, err := Select(context.Background(), r, cache, "", nil)
	require.Error(t, err)
}

func TestSelect_NoAuthenticatedAndNoDefaultFails(t *testing.T) {
	r := NewRegistry()
	r.Register("claude", &fakeEngine{name: "claude", authed: false})

	cache := authcache.New(time.Minute)
	_, err := Select(context.Background(), r, cache, "", nil)
	require.Error(t, err)
}

func TestSelect_UnregisteredStepEngineFallsBackToOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("claude", &fakeEngine{name: "claude", authed: true})

	cache := authcache.New(time.Minute)
	e, err := Select(context.Background(), r, cache, "nonexistent", nil)
	require.NoError(t, err)
	require.Equal(t, "claude", e.Name())
}
