/*
Package inventory assembles the fleet snapshot.

One collection pass fans out over the active hosts, one task per host,
joined with a per-host timeout; a hanging host yields a single placeholder
row and is flagged inactive without delaying the others. Within a host,
containers are processed sequentially because the remote engine is the
bottleneck. The aggregate is assembled in host order, then engine
enumeration order, never completion order.

Each row merges label-derived metadata (traefik routes, compose stack,
dockpeek presentation and orchestration hints), port publications with
rendered links, and the cached answers of the scan engine, version
resolver and update checker. The read path performs no registry traffic
and no pulls; unscanned images are handed to the scan queue after the
pass. Anchor containers are enriched with a dependents list computed over
their siblings, and hidden containers are dropped last.
*/
package inventory
