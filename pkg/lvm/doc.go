/*
Package lvm wraps the LVM command-line tools behind a serialized,
cache-backed client.

The lvm tools have no native transactions and are not safe for concurrent
metadata writers, so every mutating operation runs under one process-wide
lock, exposed in the style of a database transaction:

	err := client.Update(ctx, func(tx *lvm.Tx) error {
		if err := tx.Rename(base, revision); err != nil {
			return err
		}
		return tx.Rename(overlay, base)
	})

Read-only metadata queries bypass the lock and are served from a
generation-counted cache populated by one full lvs listing per volume
group. Every Update invalidates the cache regardless of outcome: a crash
between an lvm call and its acknowledgment must leave the next read
re-querying the tool rather than trusting stale data. Out-of-band changes
(another process, manual lvm use) require an explicit Invalidate.

# Tool-version compatibility

The set of lvs report columns varies across LVM releases. Old releases
lack origin_uuid; the client detects this on first listing and derives
the origin UUID by resolving the origin name within the same report.
*/
package lvm
