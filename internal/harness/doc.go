// Package harness runs history scenarios against a fresh engine.
//
// # Scenario Format
//
// Scenarios are YAML files describing a sequence of units of work and the
// relationship memberships expected afterwards:
//
//	name: partner_snapshots
//	description: "Members resolve to the partner version at each transaction"
//	mapping: ../mappings/articles.yaml
//	units:
//	  - steps:
//	      - {op: insert, entity: article, id: a1, values: {title: v1}}
//	      - {op: insert, entity: tag, id: p1, values: {name: one}}
//	      - {op: link, entity: article, role: tags, owner: a1, partner: p1}
//	  - actor: alice
//	    steps:
//	      - {op: update, entity: tag, id: p1, values: {name: renamed}}
//	  - abort: true
//	    steps:
//	      - {op: unlink, entity: article, role: tags, owner: a1, partner: p1}
//	assertions:
//	  - type: members
//	    entity: article
//	    id: a1
//	    version: 0
//	    role: tags
//	    expect: ["tag:p1@1"]
//
// A step may set expect_error to an error code (e.g. CONFIGURATION); the
// step must then fail with that code and the unit continues.
//
// # Assertion Types
//
//   - members: the membership of a role on one entity version, as version keys
//   - version_count: the number of versions of an entity
//   - version_values: the column values of one entity version
//   - transaction_count: the number of committed transactions
//
// # Deterministic Testing
//
// Every run uses an in-memory SQLite store, sequential unit handles
// ("uow-1", "uow-2", ...) and a step clock starting at testutil.Epoch, so
// traces are identical across runs and suitable for golden comparison.
package harness
