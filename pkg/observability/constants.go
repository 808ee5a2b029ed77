package observability

// Attribute keys shared across spans.
const (
	AttrAgentName       = "agent.name"
	AttrAgentStep       = "agent.step"
	AttrLLMProvider     = "llm.provider"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrToolName        = "tool.name"
	AttrSearchQuery     = "search.query"
	AttrSearchTopK      = "search.top_k"
	AttrDocumentID      = "document.id"
)

// Span names.
const (
	SpanAgentRun      = "agent.run"
	SpanAgentStep     = "agent.step"
	SpanLLMRequest    = "llm.request"
	SpanToolExecution = "tool.execution"
	SpanGuardrail     = "guardrail.evaluate"
	SpanEmbed         = "embedder.embed"
	SpanSearch        = "rag.search"
	SpanIngest        = "rag.ingest"
	SpanMemoryRecall  = "memory.recall"
)
