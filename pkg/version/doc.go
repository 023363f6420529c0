/*
Package version resolves whether a newer image tag exists.

An image reference parses into (registry, repository, tag); the registry
family is a tagged variant (hub, ghcr, lscr, gcr, quay, generic v2) and the
tag lister is a single dispatch over it. Auth tokens are cached per
(registry, repository) for five minutes.

Tags parse into a comparable tuple of up to four numeric components plus a
suffix. Calendar tags (2021.12.16) are flagged date-based; any semantic
tuple outranks any date-based tuple because projects migrate from calendar
to semantic versioning, never back. Bare integers are rejected as build
numbers. Candidate selection filters to strictly newer tags, drops
unstable and platform-specific candidates unless the running tag is itself
one, drops suffixes embedding a second version number, and drops tags with
fewer explicit numeric segments than the running tag. Survivors rank
stable first, non-platform first, semantic first, then newest.

Outcomes, including "no newer version", are cached in the shared file
cache; an empty tag list is treated as a transient registry failure and is
not cached.
*/
package version
