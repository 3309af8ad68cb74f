// Package core defines the shared contracts of the payments backend:
// the Storage collaborator, domain records, the error taxonomy, config
// resolution, and logging/metrics plumbing. Packages higher in the tree
// (webhooks, events, notify, provider) depend on core and never on each
// other's internals.
package core
