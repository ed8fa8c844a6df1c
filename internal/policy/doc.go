// Package policy decides whether an incoming entry is written, removes the
// registered entry, or is dropped as stale.
//
// Every function here is pure. The ordering rule lives on ir.Version: the
// higher seq wins and equal seqs are broken by byte-wise author comparison.
//
// Two modes exist. Decide follows the classic rule where a tombstone only
// acts on a registered entry; stores that delete on removal use it.
// DecideRetaining additionally keeps tombstones for absent names, which
// makes the stored result independent of arrival order.
package policy
