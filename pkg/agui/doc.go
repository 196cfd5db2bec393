// Package agui defines the AG-UI wire types exchanged with frontends: the
// RunAgentInput request body, the event stream a run produces, and the
// encoder that frames events as server-sent events or newline-delimited JSON.
package agui
