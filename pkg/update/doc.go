/*
Package update answers "is this container behind?" and performs the safe
replace when it is.

The Checker pulls a container's tag and compares image ids, caching the
decision per (host, container, image) for two minutes. A shared
cancellation token is polled between every blocking call so a bulk cancel
takes effect promptly. Floating-tag mode can rewrite the tag being checked
(latest, major, minor) before the pull. Pull failures, typically private
repositories or offline registries, resolve to "no update".

The Updater replaces a running container in place: per-container advisory
file lock, label policy check (skip/pin blocks), dependent discovery by
container: network mode, pull, idempotence check, effective-config
extraction, then stop, remove, wait, create, reattach networks, start, verify.
Dependents are recreated afterwards against the new target id with
rename-based restore on failure. If anything after the removal fails the
original is recreated from its previous image; a failed restoration is the
one critical error, wrapped in ErrRollbackFailed and naming the container
an operator must recover.

When an external orchestrator is configured, its stack-aware redeploy path
is attempted before the engine path.
*/
package update
