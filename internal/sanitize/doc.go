// Package sanitize strips tracking parameters from navigated URLs.
//
// A rules-driven engine removes query parameters that match an exact-name
// list or a compiled pattern family, unless the destination domain explicitly
// exempts them. Rule sets are copy-on-write: readers always see a fully
// formed set, reloads swap a whole new set atomically, and a malformed reload
// keeps the previous rules active. Per-domain counters track how much
// tracking was removed.
package sanitize
