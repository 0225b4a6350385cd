/*
Package redis provides the production adapters of the railhub ports on top of Redis.

  - Bus: Pub/Sub on one Redis channel per logical channel ("railhub:discovery", ...).
    Pub/Sub is fire-and-forget, which matches the best-effort broadcast contract.
  - Names: The hub service name as a key with a TTL, claimed with SET NX and refreshed
    by the holder; release is checked against the holder id with a Lua script.
  - Hardware: Binary device lines stored as fields of one hash per station
    ("railhub:io:<station>"). A field that does not exist is an unresolvable device.
*/
package redis
