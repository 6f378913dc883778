// Package entityid generates and manipulates the 128 bit identifiers used as
// primary keys and routing keys of the storage engine.
//
// An identifier encodes its generation time, the generating peer and a sequence
// number, which together form its identity. The remaining bits carry the 44 bit
// replication group the entity is routed to. The group is usually decided after
// the identifier was created and may change later, so it never takes part in
// equality or hashing.
//
// Example:
//
//	gen := entityid.NewGenerator(peerID)
//	id := gen.New()
//	_ = id.SetRoutingGroup(group)
//	index[id.Key()] = entity
package entityid
