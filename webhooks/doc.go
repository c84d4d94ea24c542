// Package webhooks contains the billing event pipeline.
//
// An event flows validate -> dedup -> classify -> route -> execute. Crisis
// events race a short deadline and fall back to emergency access on timeout
// or error; normal events that fail are parked in the retry scheduler until
// their attempt budget is spent.
package webhooks
