// Package dstore implements store.IStore as a replicated group on top of the
// Dragonboat RAFT library. A host serves a dstore group when the rows of that
// group must survive the loss of a machine.
//
// Writes:
//
//	Apply encodes the mutation batch into an internal.Command and proposes it
//	with SyncPropose. Every replica applies the committed batch atomically in
//	KVStateMachine.Update, so a failing mutation leaves the group unchanged on
//	all replicas. The RAFT log index is the write index of the batch, empty
//	entries (e.g. after a leader change) still advance it.
//
// Reads:
//
//	Get and Scan use SyncRead and therefore see every batch committed before
//	the read started, on whichever replica serves it. GetDBInfo is a StaleRead.
//	Proposals and reads are retried while Dragonboat reports ErrSystemBusy and
//	fail with RetCInternalError after the configured timeout.
//
// Snapshots:
//
//	The state machine writes fuzzy snapshots through db.KVDB.Save, compressed
//	with zstd. A replica that joins or restarts loads the latest snapshot and
//	replays the log entries committed after it.
//
// Example:
//
//	nh, err := dragonboat.NewNodeHost(hostConfig.ToNodeHostConfig())
//	if err != nil { ... }
//
//	factory := func() db.KVDB { return maple.NewMapleDB(nil) }
//	err = nh.StartConcurrentReplica(members, false,
//	    dstore.CreateStateMachineFactory(factory),
//	    hostConfig.ToDragonboatConfig(groupID))
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, groupID, 5*time.Second)
//
// Use lstore for groups that live only as long as the host process.
package dstore
