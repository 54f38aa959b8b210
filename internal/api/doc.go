// Package api exposes the REST interface of the ChainPilot daemon: session
// management, the conversation loop, and the single approve/reject entry
// point for staged transaction bundles.
package api
