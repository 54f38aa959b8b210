// Package intent normalizes assistant output into typed on-chain operation
// requests. It defines the closed set of intent kinds the pipeline can
// execute and the extractor that maps structured tool calls, or as a
// fallback free-form reply text, onto that set.
package intent
