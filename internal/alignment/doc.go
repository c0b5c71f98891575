// Package alignment resolves the pose of virtual content against a set of
// real-world reference frames.
//
// Responsibilities: the Pose/Accuracy/State value types, the observable
// Strategy contract, the MultiParent strategy (nearest-neighbour selection
// over candidate frames), the recompute throttle, and the Driver that ticks
// strategies from a single goroutine.
// Key types: Pose, Accuracy, State, StatusTracker, MultiParent, Driver.
//
// Concurrency: strategies are not safe for concurrent use. Every mutation
// happens on the goroutine that drives ticks; other goroutines hand work to
// it through Driver.Post. Listeners run synchronously on that goroutine.
//
// No persistence or anchor-service code is allowed in this package; those
// collaborators live in internal/frames and internal/anchors.
package alignment
