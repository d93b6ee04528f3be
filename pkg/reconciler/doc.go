/*
Package reconciler runs a background sweep that re-verifies the
integrity of every hash chain the Edge maintains: the per-order event
chain for each active order, and the administrative audit chain.

It exists because corruption or tampering doesn't always surface
immediately — a bad write can sit undetected until the next read of
that exact order. The reconciler forces a periodic full read instead
of waiting for one.

# Cycle

Every 60 seconds:

 1. List active orders, read each one's full event stream, and replay
    VerifyOrderChain against it.
 2. Recompute each order's snapshot checksum against its persisted
    snapshot (StateChecksum).
 3. Walk the full audit chain via audit.VerifyChain.

Breaks are logged and counted (posedge_chain_breaks_detected_total);
the reconciler does not attempt automatic repair, since a bad hash
almost always means the underlying bytes are gone or altered, not
that the snapshot can be safely recomputed.

Like the reconciliation engine it's drawn from, this one is stateless
between cycles and level-triggered: it re-derives everything it needs
from storage each pass rather than tracking incremental state.
*/
package reconciler
