// Package relation provides Ref, a to-one association resolved on demand
// through the unit of work that loaded its owner.
package relation
