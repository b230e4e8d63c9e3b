// Package eta estimates how long a provider needs to reach a request.
// Estimates only annotate candidates and offers; ranking never depends on them.
package eta
