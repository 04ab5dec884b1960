// Package crawler holds the domain types shared by the scentfinder pipeline:
// categories, fetch requests and outcomes, extracted candidates, persisted
// records, the per-stage error taxonomy, and the interfaces each subsystem
// implements.
package crawler
