// Package cache is the client side of the host's request-collapsing cache.
//
// Lookup reads whatever is cached. TransactionLookup joins the collapsing
// protocol: for a missing or expiring key exactly one caller is told it
// must insert or update, and it then owes the host one of Insert,
// InsertAndStreamBack, Update or Cancel. Other callers wait for that
// result or are served stale content.
//
//	tx, err := c.TransactionLookup(key, cache.LookupOptions{})
//	st, _ := tx.State()
//	if st.MustInsertOrUpdate() {
//	    w, err := tx.Insert(cache.WriteOptions{MaxAge: time.Minute})
//	    ...
//	}
//
// All validation happens before the host is called. Absence reported by
// the host (optional_none) surfaces as a missing value, never as an error.
package cache
