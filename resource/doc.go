// Package resource provides the handle table behind host capabilities.
//
// A handle is a small integer naming a host-owned resource: a body, a
// request, a cache entry, a pending operation, a store. Handles are never
// dereferenced by callers; ownership moves to whichever operation consumes
// them and cleanup paths must remove them explicitly.
//
//	table := resource.NewTable()
//
//	h, err := table.Insert(resource.KindBody, buf)
//	buf, ok := resource.Lookup[*bodyRes](table, h, resource.KindBody)
//	table.Remove(h)
//
// Handle 0 is never issued. Invalid (0xFFFFFFFE) is the sentinel the host
// returns when a resource is absent, e.g. a cache entry without a body.
//
// Observers see every create and drop:
//
//	table.Subscribe(observer)
package resource
