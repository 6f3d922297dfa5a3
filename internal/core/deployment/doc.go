// Package deployment provides pure functions for planning an appliance.
//
// This package contains the functional core logic that turns manifest units
// into stable network identities. All functions are pure (no I/O, no side
// effects).
//
// # Functions
//
//   - Naming: Generate consistent identities (ServiceName, ImageName, DescriptorFilename)
//   - Ports: Assign host ports in declaration order (AllocatePorts)
//
// # Usage
//
// The engine uses these pure functions to name and number every unit before
// any source tree is fetched or any image is built.
//
//	ports, err := deployment.AllocatePorts(m.Apps.Names(), 8001)
//	service := deployment.ServiceName(deployment.KindApp, "whisper") // "app-whisper"
//	image := deployment.ImageName("clams-", service)                 // "clams-app-whisper"
package deployment
