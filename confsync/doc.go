// Package confsync replicates a small key-value configuration map across the
// members of a group.
//
// Every Store keeps a full copy of the map. Set bumps the entry's version and
// multicasts a SYNC envelope with the changed entry; when a new member joins,
// every Store multicasts a MEMBER_REFRESH envelope carrying its whole
// snapshot so the newcomer catches up. Received entries are applied
// last-writer-wins on (Version, Origin), so all members converge regardless
// of the order envelopes arrive in.
//
// Replication is as reliable as the underlying group: an envelope lost on the
// wire is repaired by the next refresh or the next write of the same key.
package confsync
