// Package cluster describes the shard-group topology of a newsgrid deployment
// and provides the HTTP/JSON helpers every component uses to talk to the
// document-store nodes.
//
// # Topology model
//
// A deployment is a fixed set of named shard groups. Each group owns a slice of
// the corpus (users by home region, articles by category) and is served by an
// ordered list of replica endpoints, primary first:
//
//	              ┌──────────────────────────────┐
//	              │          Topology            │
//	              └──────────────┬───────────────┘
//	                             │
//	          ┌──────────────────┴──────────────────┐
//	          │                                     │
//	┌─────────▼──────────┐               ┌──────────▼─────────┐
//	│      group-A       │               │      group-B       │
//	│ regions: Beijing   │               │ regions: Hong Kong │
//	│ replicas:          │               │ replicas:          │
//	│  [primary, backup] │               │  [primary, backup] │
//	└────────────────────┘               └────────────────────┘
//
// The topology is plain data loaded from a YAML file and passed explicitly into
// every component constructor. There is no process-wide registry and no dynamic
// membership: replica order in the file is the fallback order on the read path,
// and group order in the file is the global probe order for content-pointer
// resolution.
//
// # Placement policy inputs
//
// Besides the groups themselves, the topology carries the data-placement rules
// the partitioning and analytics layers consume:
//
//   - Categories: which article categories are shared (replicated into every
//     group) and which are exclusive to a single group.
//   - Placement: which group holds the complete article set, and which groups
//     store daily, weekly and monthly popularity snapshots.
//
// Interpreting those rules is the job of the partition package; this package
// only loads and validates them.
package cluster
