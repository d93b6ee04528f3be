/*
Package health provides pluggable health checks for an Edge's external
dependencies: Cloud reachability and the local message bus listener.

Unlike a cluster orchestrator watching many containers, an Edge only has
a couple of things worth polling on an interval — so this package keeps
the Checker interface and hysteresis-based Status tracking, but drops
per-container bookkeeping in favor of a single Monitor per dependency.

# Checker Interface

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

HTTPChecker and TCPChecker are the two implementations. Workers don't
need to know which kind of check backs a Monitor, only call Check() and
read the Result.

# Result and Status

	type Result struct {
		Healthy   bool
		Message   string
		CheckedAt time.Time
		Duration  time.Duration
	}

Status accumulates Results into a consecutive-failure/success streak and
implements hysteresis: a single bad check doesn't flip a dependency to
unhealthy, and a single good check recovers it immediately, matching
Update's asymmetric rule (Retries failures to go down, one success to
come back up).

# Monitor

Monitor ties a Checker, a Config, and a Status together into a ticking
background loop that reports into pkg/metrics under a named component:

	cloud := health.NewMonitor("cloud",
		health.NewHTTPChecker(authServerURL+"/health"),
		health.Config{Interval: 30 * time.Second, Timeout: 5 * time.Second, Retries: 3})
	cloud.Start()
	defer cloud.Stop()

cmd/edge runs two of these: one HTTPChecker against Cloud's own /health
endpoint, and one TCPChecker against the message bus's listen address,
so /ready reflects both dependencies without the admin API handler
blocking on a live network call per request.

# See Also

  - pkg/metrics - component registry Monitor reports into
  - cmd/edge - wires Monitor instances for cloud and bus
*/
package health
