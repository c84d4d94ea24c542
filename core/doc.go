// Package core contains the billing-event domain contracts, entities and the
// shared state the webhook engine mutates. Lower-level adapters and the
// pipeline packages depend on this package; core must not depend on them.
package core
