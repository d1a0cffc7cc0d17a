// Package instructions parses the mounted instruction configuration into
// an immutable registry of named device capabilities.
//
// The file is a YAML mapping from instruction name to protocol options,
// either bare or wrapped under a top-level "instructions" key:
//
//	instructions:
//	  status:
//	    protocolProperties:
//	      mode: publisher
//	      publishIntervalMS: 1000
//	      qos: 1
//	  decode:
//	    protocolProperties:
//	      mode: subscriber
//
// Unknown option keys are ignored; duplicate instruction names, QoS
// levels outside 0..2, and negative intervals fail construction. The
// registry never changes after construction: changing the mounted file
// requires an adapter restart.
package instructions
