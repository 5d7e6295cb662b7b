// Package scanning turns stored or generated sockets into scan results.
//
// A scan run probes every selected socket with the Minecraft Server List Ping,
// classifies the outcome and hands the result to the persistence coordinator,
// which writes it to the store in the background.
//
// # Overview
//
// The package is built around two pieces:
//   - Scanner: the per-socket task run by each worker. It waits on the
//     optional rate limiter, probes the socket and submits the outcome.
//   - Run: one complete scan session. It loads the success status, starts a
//     coordinator, spreads the sockets across the worker pool and returns a
//     Summary once the final flush has completed.
//
// # Outcomes
//
// Every probe ends in exactly one of three ways:
//   - success: the socket gets the "Minecraft Server" status and a Server
//     row carrying version, description and max players is submitted.
//   - expected failure: the socket gets a "<Class> <message>" status such as
//     "Timeout timed out" or "ConnectionRefused connection refused".
//   - unexpected failure: by default the run is aborted and the error is
//     returned. With FailFast disabled the socket is logged and left
//     unscanned.
//
// A failure never produces a Server.
//
// # Usage
//
//	repo := db.NewRepository(database)
//	sockets, err := repo.SelectSockets(ctx, db.SelectPending)
//	if err != nil {
//		return err
//	}
//
//	prober := probe.NewClient(probe.Config{ResolveSRV: true}, probe.NewDNSResolver())
//	summary, err := scanning.Run(ctx, repo, prober, sockets, scanning.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	fmt.Println(summary.Found, "servers found")
//
// # Cancellation
//
// Canceling the context stops workers from starting new probes. Probes in
// flight are abandoned without recording anything, and the coordinator still
// flushes every result submitted before the cancellation.
//
// # Integration
//
//   - internal/probe: the status query and outcome classification
//   - internal/coordinator: buffered, deduplicating writes
//   - internal/workers: sharded worker pool and progress monitor
//   - internal/db: sockets, statuses and servers
package scanning
