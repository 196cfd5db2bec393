// Package server exposes agents over HTTP.
//
// The Driver handles one run per POST: it validates the RunAgentInput,
// records the thread's messages, negotiates the event encoding and then
// forwards the agent's events to the client one at a time, flushing after
// each. Failures before the stream opens are answered with a JSON error;
// failures after it opens end the stream with a RUN_ERROR event.
//
// Server wraps the driver with health, tool listing, metrics, optional
// per-client rate limiting and graceful shutdown.
package server
