// Package actuator delivers damper control commands to the hardware
// collaborator (or a logging simulation of it) and reports actuation faults
// back to the engine.
package actuator
