// Package logging provides structured, rotating file logging for the
// brainshape engine. Logs are written as JSON lines to
// ~/.brainshape/logs/brainshaped.log and mirrored to stderr unless the
// caller disables it.
package logging
