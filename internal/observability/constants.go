package observability

const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"

	AttrStepIndex    = "codemachine.step_index"
	AttrAgentID      = "codemachine.agent_id"
	AttrEngineName   = "codemachine.engine"
	AttrScenario     = "codemachine.scenario"
	AttrDirective    = "codemachine.directive"
	AttrMonitoringID = "codemachine.monitoring_id"
	AttrErrorType    = "error.type"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"

	SpanStep          = "workflow.step"
	SpanEngineRun     = "engine.run"
	SpanDirectiveEval = "workflow.directive_evaluate"
	SpanHTTPRequest   = "http.request"

	// DefaultServiceName identifies this orchestrator in traces and metrics
	// when the caller does not set its own.
	DefaultServiceName = "codemachine-orchestrator"
)
