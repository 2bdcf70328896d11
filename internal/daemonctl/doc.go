// Package daemonctl is the client-side daemon supervisor.
//
// A Supervisor probes the control endpoint and, when nothing answers,
// launches a detached daemon through a Launcher and polls with exponential
// backoff until the endpoint accepts connections. Exchange then writes one
// request line and streams the daemon's messages until OK or ERROR.
package daemonctl
