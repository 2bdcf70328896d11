// Package workflow runs submitted song folders through the fixed split then
// reencode pipeline.
//
// Each stage owns an unbounded FIFO Queue and a Pool of persistent workers.
// Workers pop items, run the stage handler, report the outcome on the item's
// Reply, and hand successful items to the next stage's queue. Shutdown is a
// close signal on the first queue: every pool drains its queue, waits for all
// of its workers, and only then closes the downstream queue, so every accepted
// item reaches exactly one terminal response before Scheduler.Wait returns.
//
// Handlers for items naming the same folder never run at the same time, in
// any stage; items for different folders proceed in parallel.
//
// The Scheduler owns its queues; several schedulers can coexist in one
// process, which the tests rely on.
package workflow
