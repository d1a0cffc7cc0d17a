// Package edgedevice reports the adapter's connection health onto the
// EdgeDevice custom resource that describes the appliance.
//
// The adapter owns exactly one field of the resource,
// status.edgeDevicePhase, and reads exactly one, spec.address. Client
// is a thin apiserver client scoped to that contract; Reconciler
// drives it on a fixed cadence and elides patches when the derived
// phase is unchanged. When the resource is absent or the apiserver is
// unreachable the adapter keeps serving; phase reporting degrades, the
// device surface does not.
package edgedevice
