// Package cache tracks synthesized audio per paragraph.
//
// ParagraphCache runs each paragraph through NotRequested, Loading, Ready or
// Failed, issues at most one generation per paragraph at a time and owns the
// resulting handles. PayloadStore keeps recent payloads in memory so a
// paragraph that re-enters the prefetch window is served without a new
// request.
package cache
