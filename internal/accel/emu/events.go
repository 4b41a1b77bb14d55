package emu

import "github.com/cwbudde/kmeansbirch/internal/accel"

// EventKind names a driver operation.
type EventKind string

const (
	EventOpen           EventKind = "open"
	EventBuildProgram   EventKind = "build-program"
	EventCreateKernel   EventKind = "create-kernel"
	EventCreateBuffer   EventKind = "create-buffer"
	EventMap            EventKind = "map"
	EventUnmap          EventKind = "unmap"
	EventSetArg         EventKind = "set-arg"
	EventEnqueueMigrate EventKind = "enqueue-migrate"
	EventEnqueueTask    EventKind = "enqueue-task"
	EventExecMigrate    EventKind = "exec-migrate"
	EventExecTask       EventKind = "exec-task"
	EventFinish         EventKind = "finish"
	EventRelease        EventKind = "release"
	EventClose          EventKind = "close"
)

// Event is one entry of the driver journal. Buffers holds buffer IDs.
type Event struct {
	Seq       int
	Kind      EventKind
	Buffers   []int
	Kernel    string
	Arg       int
	Direction accel.MigrateDirection
	Map       accel.MapFlags
	Detail    string
}

// Filter returns the events of the given kinds, preserving order.
func Filter(events []Event, kinds ...EventKind) []Event {
	var out []Event
	for _, ev := range events {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}
