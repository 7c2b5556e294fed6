// Package deduplication detects builds that would produce the same result and
// links them so only one of them runs.
//
// # Fingerprints
//
// A build's fingerprint is its own revision followed by the revision of the
// closest branch of every dependency repository, in dependency order:
//
//	<revision>;<dependency revision>;...
//
// Repository ids do not take part: a build of a mirror against the mirror's
// dependency matches a build of the original against the original's.
//
// A dependency whose revision could not be looked up makes the fingerprint
// empty. Empty fingerprints never match, so a degraded build always runs.
//
// # Scope and ordering
//
// Only builds of the same repository family (repositories connected by
// duplicate links) are compared, and only active ones (pending, testing,
// running) that are not duplicates themselves. The most recent match wins.
//
// Registration is serialized per family with striped mutexes. When two equal
// builds race, the lowest id stays the real build: a pending match with a
// higher id is turned into a duplicate of the new build, and its duplicates
// are re-pointed in the same transaction so no chain forms.
//
// # Killing
//
// Kill on a duplicate targets its original, except when the original belongs
// to a sticky branch; see Engine.Kill.
//
// # Configuration
//
// See DefaultConfig() and ConfigFromEnv() (RUNBOT_DEDUP_* variables).
//
// Example:
//
//	cat := catalog.New(store, github)
//	res := resolver.New(cat, checker)
//	engine, err := deduplication.NewEngine(store, res, checker, deduplication.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	build, err := engine.CreateBuild(ctx, branch, revision, "")
//	if build != nil && build.IsDuplicate() {
//	    log.Printf("build %d duplicates %d", build.ID, build.DuplicateOf)
//	}
package deduplication
