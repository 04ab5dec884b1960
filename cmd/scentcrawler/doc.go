// Package main hosts the fragrance crawler entrypoint.
//
// A run loads configuration (file plus SCENT_* environment overrides), then:
//   - Discovery (optional): walks the note index and the per-country brand
//     listings and appends what it finds to the frontier files.
//   - Crawl: for each configured category, resumes at the position equal to
//     the number of rows already stored and processes the remaining frontier
//     URLs one at a time through the fetch layer, the extractor and the
//     persistence service.
//   - Fetch layer: direct HTTP via Colly, a rendering proxy, and a Chromedp
//     browser session, chosen per request and falling back when a challenge
//     page is detected. A request budget forces a cooldown after a threshold
//     of requests or a detected block.
//   - Persistence: Postgres (pgx) or an in-memory store, with optional page
//     archiving to a local directory or GCS and a Pub/Sub event per new
//     cologne.
//
// Run locally: go run ./cmd/scentcrawler -config config.yaml
package main
