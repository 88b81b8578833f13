/*
Package log provides structured logging for scribe using zerolog.

A single package-level zerolog.Logger is initialized once via Init and
shared by every component. Component loggers are derived with
WithComponent, plus two domain-specific helpers used throughout the
document lifecycle:

	registryLog := log.WithComponent("registry")
	docLog := log.WithDocID(string(docID))
	connLog := log.WithConnID(connID)

Console output is used in development (human-readable), JSON output in
production (machine-parseable, one object per line). Never log secrets,
asset bytes, or document content — only identifiers and durations.
*/
package log
