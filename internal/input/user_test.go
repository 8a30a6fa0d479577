package input

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moazbuilds/codemachine-orchestrator/internal/workflow"
)

func TestUserProvider_AwaitInputReturnsTypedText(t *testing.T) {
	in := strings.NewReader("hello there\n")
	var out bytes.Buffer
	p := NewUserProvider(in, &out)

	res, err := p.AwaitInput(context.Background(), workflow.StepContext{StepIndex: 0})
	require.NoError(t, err)
	require.Equal(t, "hello there", res.Text)
	require.Equal(t, workflow.SourceUser, res.Source)
	require.Contains(t, out.String(), ">")
}

func TestUserProvider_SlashAutoSwitchesMode(t *testing.T) {
	in := strings.NewReader("/auto\n")
	p := NewUserProvider(in, &bytes.Buffer{})

	res, err := p.AwaitInput(context.Background(), workflow.StepContext{})
	require.NoError(t, err)
	require.Equal(t, workflow.ModeSwitchToAuto, res.Mode)
}

func TestUserProvider_SlashManualSwitchesMode(t *testing.T) {
	in := strings.NewReader("/manual\n")
	p := NewUserProvider(in, &bytes.Buffer{})

	res, err := p.AwaitInput(context.Background(), workflow.StepContext{})
	require.NoError(t, err)
	require.Equal(t, workflow.ModeSwitchToManual, res.Mode)
}

func TestUserProvider_ContextCancelAbortsWait(t *testing.T) {
	in := newBlockingReader()
	p := NewUserProvider(in, &bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.AwaitInput(ctx, workflow.StepContext{})
	require.Error(t, err)
}

func TestUserProvider_ActivateDeactivateAreNoops(t *testing.T) {
	p := NewUserProvider(strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, p.Activate(context.Background()))
	require.NoError(t, p.Deactivate(context.Background()))
}

// blockingReader never returns, simulating a pipe awaiting input that never
// arrives so the context-cancellation path can be exercised deterministically.
type blockingReader struct{}

func newBlockingReader() *blockingReader { return &blockingReader{} }

func (b *blockingReader) Read(p []byte) (int, error) {
	select {}
}
