/*
Package scheduler elects one refresher across worker processes.

Election is an exclusive non-blocking advisory lock on a well-known file;
the winner holds it for the life of the process and runs two independent
loops: an inventory refresh (default every 5 minutes after a 30 second
delay) that warms every per-image cache and feeds the scan queue, and a
version check (default hourly after 5 seconds) that resolves newer tags
for every distinct image reference across the fleet. Losers skip
scheduling entirely and serve from the shared caches. Errors inside the
loops are logged and swallowed so the loops continue.
*/
package scheduler
