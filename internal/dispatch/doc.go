// Package dispatch executes broadcast campaigns: it claims the campaign,
// resolves targets, fans deliveries out across per-bot worker pools gated by
// the rate limiter and a global in-flight ceiling, aggregates per-recipient
// outcomes through a single writer, and drives the campaign to its terminal
// status. Cancellation is cooperative: it is observed before a target is
// dequeued and inside the rate-limiter wait, never by interrupting an
// in-flight provider call.
package dispatch
