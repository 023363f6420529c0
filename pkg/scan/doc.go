/*
Package scan drives vulnerability scanning and its bookkeeping.

The Engine owns four pieces of state: a digest-keyed result cache (shared
file cache, one hour by default), a FIFO scan queue with an in-flight dedup
set, a single background worker, and a persistent history store.

# Scan flow

A synchronous scan validates the image name against a conservative pattern
(no shell metacharacters reach the scanner command), health-checks the
scanner service with a 30-second cached health bit, resolves the image
digest through the host's engine client, and returns a cached result when
one is valid. Otherwise the scanner CLI is exec'd inside its container
against the local server, bounded by the scan timeout plus thirty seconds
of join slack, and the JSON report is normalized: severities are bucketed
by uppercased match, CVSS is taken from a vendor priority list preferring
V3 over V2, and the severity summary is accumulated so that total always
equals the sum of the buckets.

# Queueing

QueueScan accepts an image unless it is already in flight or already has a
valid cached result. The worker starts lazily on first use, drains the
queue one image at a time, and swallows failures so one bad image never
stops the drain. QueueAutoScan is the collector's hook: after every
inventory pass it enqueues all unscanned, non-opted-out images.

# History and trend

Every successful scan persists one row in the history store, plus one
first-sighting row per vulnerability fingerprint; duplicate fingerprint
inserts are discarded so first-seen timestamps are monotonic. Trend
classification compares the two newest error-free rows of a digest:
improving, degrading, stable, or unknown with fewer than two rows.
*/
package scan
