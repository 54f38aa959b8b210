// Package bundle implements the staged-transaction state machine at the
// heart of the approval flow. A bundle is a non-empty list of validated
// intents that waits for exactly one explicit human approval before it is
// queued for atomic on-chain submission. Terminal states are final: a
// failed or rejected bundle can only be replaced by a fresh conversation
// turn, never resubmitted.
package bundle
