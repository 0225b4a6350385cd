/*
Package ports defines the driven ports (interfaces) of the railhub coordination core.

These interfaces decouple the coordination logic from the transport, the name service
and the physical I/O, so the same hub and station code runs against Redis in production
and against in-memory fakes in tests.

# Key Interfaces

  - Bus: Best-effort broadcast transport over named channels (may drop, delay or duplicate).
  - NameService: Well-known service name lookup used by remotes to find the hub.
  - Hardware: Resolves actuator (Output) and sensor (Input) addresses at call time.
*/
package ports
