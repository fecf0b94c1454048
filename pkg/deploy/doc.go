/*
Package deploy serialises deploy execution per environment and streams
subprocess output with stable, replayable event ids.

Each environment owns one state record guarded by its own mutex: the
running flag, the start time, the transient output buffer, the 1-based
event counter, and the last terminal result. The lock is held only
around small in-memory operations and never across a network write.

Lifecycle of a streamed deploy:

 1. Begin checks the gate (not running, cooldown expired) and resets the
    state: buffer cleared, next id 1, last result cleared.
 2. RunStreamed spawns the prepared command and pumps stdout and stderr
    line-by-line through a serialised sink. Every line becomes an
    "output" event appended to the buffer and handed to the emitter.
 3. On exit a terminal "done" or "error" event is appended and emitted,
    then Finish stores the result, clears the buffer, and (when a result
    store is configured) persists the outcome.

A reconnecting client replays with EventsAfter and then blocks on Wait,
which is woken on every append instead of polling. A dropped client
never cancels the subprocess: emitters swallow their own write errors
and the buffer keeps growing for later resumes.

The 5 second cooldown after EndTime absorbs duplicate triggers from
upstream proxies; it is a correctness feature, not a rate limiter.
*/
package deploy
