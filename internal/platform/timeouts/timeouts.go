// Package timeouts defines shared timeout constants used across the sync
// service. Every remote call in the pipeline is bounded by one of these.
package timeouts

import "time"

// CRMLogin caps the CRM session login round trip.
const CRMLogin = 15 * time.Second

// CRMRequest caps a single CRM find, create, update or upsert call.
const CRMRequest = 10 * time.Second

// Decrypt caps one invocation of the decryption collaborator.
const Decrypt = 2 * time.Second

// Forward caps each call to the downstream verification service.
const Forward = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second
