// Package conversation owns the chat loop between the user and the remote
// assistant. The orchestrator appends messages to an immutable log, enforces
// single-flight per session while an assistant request is outstanding, and
// feeds assistant output through intent extraction and policy validation
// before staging a transaction bundle for review.
package conversation
