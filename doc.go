// Package interflow is the runtime backbone of a message-oriented integration
// adapter built on Watermill. An adapter (Service) owns channels; each channel
// owns a transport and an ordered set of workflows; each workflow runs
// processing stages followed by an output stage that produces the message.
//
// Lifecycle calls flow top-down through a LifecycleStrategy. The default
// strategy aborts a pass at the first failing component and rolls back the
// components it already brought up, in reverse order; the best-effort
// strategy attempts every component and reports the failures together.
//
// Message failures flow bottom-up. When the output stage fails after its own
// immediate retries, the workflow's ProduceExceptionHandler decides what
// happens: the null policy drops the message, the restart policy restarts the
// workflow and bubbles the message to its channel, which passes it on to the
// adapter's retry queue. Queued messages are resubmitted through the workflow
// that produced them by a fixed-interval scheduler, and can be inspected or
// failed over the management HTTP surface:
//
//	POST /retry/fail-all?failFutureMessages=true|false
//	GET  /retry/waiting
//	POST /retry/{id}/fail
//	GET  /retry/failed
//	GET  /retry/stats
//	POST /retry/reset-gate
//	GET  /errors
//	GET  /metrics
//
// A message carries an optional success callback that survives cloning and
// runs at most once, after the message has been produced.
//
// A minimal adapter is a YAML file loaded with LoadConfig, the stages it
// names registered in ServiceDependencies, and a call to Service.Run; see
// examples/adapter.
package interflow
