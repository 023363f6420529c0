/*
Package apikeys is the persistent credential store for programmatic
access.

Tokens are dpk_ followed by 64 hex characters. Only the SHA-256 of the
plaintext is persisted, with the first eight characters kept for display;
the plaintext is surfaced once, in the creation response. Validation hashes
the submitted value, rejects inactive or expired rows, and stamps
last-used. Revocation flips the active flag; keys expired for more than
seven days are garbage-collected outright.
*/
package apikeys
