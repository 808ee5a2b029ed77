// Package loom is a library for building LLM agents in Go.
//
// Loom provides an agent execution engine around a step-based state machine,
// a tool registry with JSON-Schema validated arguments, a uniform provider
// contract over OpenAI, Anthropic, Gemini and Ollama, and a retrieval
// pipeline with hybrid vector/keyword search.
//
// # Quick Start
//
// Declare a tool, register it, and run an agent:
//
//	weather := &tools.Tool{
//	    Name:        "get_weather",
//	    Description: "Current weather for a city",
//	    Schema:      schema.Object().WithRequiredProperty("city", schema.String()),
//	    Handler: func(ctx context.Context, args tools.Arguments) (any, error) {
//	        city, _ := args.GetString("city")
//	        return fetchWeather(city)
//	    },
//	}
//
//	registry := tools.NewRegistry()
//	registry.Register(weather)
//
//	provider, _ := llms.NewProvider(llms.Config{Type: "openai", Model: "gpt-4o-mini", APIKey: key})
//	engine := agent.New("assistant", provider, registry)
//	state, _ := engine.Run(ctx, "weather in Paris?")
//
// # Packages
//
// Import specific packages for each concern:
//
//	import (
//	    "github.com/loomlabs/loom/pkg/agent"
//	    "github.com/loomlabs/loom/pkg/tools"
//	    "github.com/loomlabs/loom/pkg/llms"
//	    "github.com/loomlabs/loom/pkg/rag"
//	)
//
// # Key Features
//
//   - Step-based agent engine with streaming events and snapshot persistence
//   - Tool registry with combinator-built or struct-reflected schemas
//   - Parallel tool execution preserving declaration order
//   - Retrying HTTP client honoring provider rate-limit headers
//   - Hybrid retrieval with RRF or weighted fusion and permission-scoped
//     collections
//   - Guardrails for input and output, including LLM-as-judge
//   - OpenTelemetry tracing and Prometheus metrics
package loom
