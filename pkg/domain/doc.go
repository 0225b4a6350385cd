/*
Package domain contains the core domain models of the railhub coordination core.

It defines the entities shared by every node of the rail network: station identity,
switchgear, parking bays, the hub's station registry and switch lock, departure intents,
and the logical message set exchanged over the broadcast transport. This package is kept
pure and free of external dependencies like I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - StationIdentity: Who a node is (ID, label, role, position).
  - SwitchDevice / BayState: Switchgear owned by a station and the occupancy of its parking bays.
  - StationRecord: The hub's view of a remote station (soft membership).
  - SwitchLock: The hub-held mutual exclusion over its parking-bay switches.
  - DepartureIntent: A station's pending destination and the phase of its departure sequence.
  - Message: The envelope of the tagged message union (Kind + Action discriminants).
*/
package domain
