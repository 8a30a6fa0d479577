package workflow

// Phase records why a Step Session snapshot was written, borrowing the
// checkpoint Phase/Type vocabulary's granularity. It is an additive field on
// the tracking record and never substitutes for CompletedAt/CompletedChains.
type Phase string

const (
	PhaseInitialized     Phase = "initialized"
	PhasePreInvoke       Phase = "pre_invoke"
	PhasePostInvoke      Phase = "post_invoke"
	PhaseSubprocessRun   Phase = "subprocess_running"
	PhaseChainAdvanced   Phase = "chain_advanced"
	PhaseAwaitingInput   Phase = "awaiting_input"
	PhaseError           Phase = "error"
)
