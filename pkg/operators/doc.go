// Package operators implements the stateful transform stages chained over a
// change set stream: Filter, Transform, Sort, Page, Virtualize, GroupBy,
// DistinctValues, LimitSize and DisposeMany.
//
// Every operator is a cold stream: each Subscribe call builds its own
// private shadow state recording what that subscription has emitted
// downstream, which is how the stage computes correct incremental diffs in
// O(changes) without re-scanning the collection. Controller-free operators
// touch their shadow only inside the synchronous delivery call stack, which
// the source cache's edit lock already serializes, so they need no locking
// of their own.
//
// Controller objects (FilterController, PageController, RegroupController)
// broadcast consumer-driven re-evaluation requests to all live
// subscriptions of their operator. Controller calls run on the caller's
// goroutine and mutate the same shadow state as upstream delivery; each
// such subscription holds a mutex across both paths, so calling a
// controller concurrently with producer edits is safe. Controller calls
// must not be issued from inside a subscriber callback.
package operators
