// Package webhooks receives provider-originated payment events and
// processes them exactly once per event id.
//
// Processing is a fixed pipeline: verify the signed payload, parse the
// envelope, dedupe against the idempotency ledger, route to registered
// handlers, execute each handler through the bounded retry engine, and
// persist the outcome. Handler failures are contained: the provider is
// acknowledged and the event is parked in the dead-letter set for
// operator-triggered retry. Only verification failures and ledger write
// failures surface as non-2xx responses.
package webhooks
