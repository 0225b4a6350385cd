/*
Package railhub coordinates a small rail network: one hub station and any number of
remote stations connected over a broadcast transport.

Every station powers a platform rail, reads a debounced train detector and drives its
track switches. The hub keeps the route table, hands out trains parked in its bays and
guards its switches with a lock while a train is in transit. Remotes find the hub,
register, heartbeat, request trains and send idle trains back.

# Usage

A Node is built from a station file and runs until its context ends:

	cfg, err := config.Parse(data)
	if err != nil {
		log.Fatal(err)
	}

	node, err := railhub.New(cfg, railhub.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := node.Run(ctx); err != nil {
		log.Fatal(err)
	}

While running, the node answers Status and accepts operator commands such as
SelectDestination, CancelDeparture and Brake. Reconfigure switches the node between
the HUB and REMOTE roles without a restart.

The transport, name service and device I/O are ports (see pkg/ports). The redis
adapters back a real deployment; the memory adapters run a whole network inside one
process for tests and demos.
*/
package railhub
