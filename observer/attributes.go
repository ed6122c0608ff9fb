package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrEmbedTextCount = attribute.Key("embed.text_count")
	AttrEmbedSparse    = attribute.Key("embed.sparse")

	AttrIntent = attribute.Key("intent.category")

	AttrJobStatus   = attribute.Key("job.status")
	AttrJobStrategy = attribute.Key("job.strategy")
	AttrStatus      = attribute.Key("status")
)
