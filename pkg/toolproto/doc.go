// Package toolproto implements the JSON tool protocol used to delegate
// analysis, planning, and generation work to external tool servers.
//
// A server speaks three methods over HTTP: initialize, tools/list, and
// tools/call. The Registry fronts a set of servers with per-tool local
// fallbacks, so a missing or misconfigured server degrades to builtin
// behavior instead of failing the deployment. Servers configured with
// placeholder URLs are detected at registration and never dialed.
//
// Every call, fallback included, lands in a bounded rolling history with
// credential fields redacted.
package toolproto
