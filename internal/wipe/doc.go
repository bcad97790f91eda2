// Package wipe implements best-effort secure deletion of directory trees.
//
// Files at or below a configurable size ceiling are overwritten with
// cryptographically random bytes before removal, reducing recoverability of
// session storage and quarantined downloads. Overwrite failures never abort a
// wipe; the tree is still removed. Locked or permission-restricted trees are
// retried with increasing backoff after clearing restrictive modes.
package wipe
