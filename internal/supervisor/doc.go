// Package supervisor keeps a set of named workers alive.
//
// The Supervisor owns a Registry mapping each name to the configuration it was
// registered with and the most recently constructed worker. A control loop
// wakes every check cycle and rebuilds every worker that is no longer alive
// from its stored configuration. Rebuilds are unconditional and unlimited: a
// source that never opens is retried at the check-cycle cadence for as long as
// it stays registered.
//
// Register, Remove and the rebuild pass mutate the registry under one lock. A
// replacement is started outside the lock and installed only if its entry
// still holds the dead worker, so a slow source open never blocks Register,
// Remove or Shutdown. For a given name whichever mutation lands last wins.
// Registering a name twice replaces the entry without stopping the previous
// worker; callers that want a replacement should Remove first.
//
// Example usage:
//
//	sup := supervisor.New(supervisor.NewRegistry(), factory, supervisor.Options{
//	    CheckCycle: 10 * time.Second,
//	}, sink, logger)
//	sup.Start()
//	defer sup.Shutdown(context.Background())
//
//	if _, err := sup.Register("gate", cfg); err != nil {
//	    // open failures are retried by the control loop
//	}
//
// Health checks are provided via a separate HTTP server:
//
//	healthServer := supervisor.NewHealthServer(8083, sup, redisClient, logger)
//	healthServer.Start()
//	defer healthServer.Stop()
package supervisor
