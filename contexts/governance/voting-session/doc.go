// Package votingsession implements the permissioned voting session inside the
// governance context.
//
// An administrator moves a single poll through its workflow phases, registers
// voters, and tallies the proposals those voters submitted. Every state change
// runs as one unit of work against the session repository and appends its
// notification to an outbox, which the relay publishes for the notification
// consumer and its observers.
package votingsession
