// Package arena implements a region allocator with nested arenas and
// deferred cleanup.
//
// # Overview
//
// An Arena owns every allocation made from it. Allocations can be released
// individually with Release, or all at once when the arena is freed. Four
// facilities cooperate inside each arena:
//
//   - a bump allocator over pages that double in size up to a cap,
//   - eleven size classes (16 to 512 bytes, header included) whose released
//     chunks are recycled through per-class free lists,
//   - a linked list of big allocations taken straight from the Heap,
//   - a table of deferred callbacks run, in registration order, on Free.
//
// Every allocation is preceded by an 8-byte header holding its capacity,
// which is what lets Release and Realloc work without the caller passing a
// size.
//
// # Basic Usage
//
//	a, err := arena.New(nil)
//	if err != nil {
//		return err
//	}
//	defer a.Free()
//
//	buf, err := a.Alloc(1, 1024)
//	name, err := a.AllocString("scene")
//	verts, err := arena.MakeSlice[float32](a, 3*1024)
//
// # Nested Arenas
//
// A child arena takes its first page from its parent and registers a
// deferred callback there, so freeing a parent frees its whole subtree.
// Freeing a child early cancels that callback:
//
//	frame, err := arena.New(scene)
//	...
//	frame.Free() // optional, scene.Free() would do it too
//
// Arenas can also live in caller storage, which avoids allocating a control
// block for short-lived scratch space:
//
//	var tmp arena.Arena
//	if err := tmp.Init(nil); err != nil {
//		return err
//	}
//	defer tmp.Free()
//
// # Deferred Cleanup
//
// Defer registers a callback that runs when the arena is freed. Cancel drops
// it, Run drops it and runs it now, Redefer retargets it. DeferValue copies
// a small value such as a resource handle into the arena and passes the copy
// to the callback; CancelValue takes the copy's pointer:
//
//	h, err := arena.DeferValue(a, func(h *gfx.Handle) { dev.Destroy(*h) }, &buf)
//	...
//	arena.CancelValue(a, h, true) // destroy now
//
// # Errors
//
// Heap exhaustion anywhere (page growth, big allocations, defer table growth,
// child creation) is reported as an error wrapping ErrOutOfMemory and leaves
// the arena unchanged. Programming errors panic: freeing an arena twice,
// using a freed arena, releasing a block twice or releasing a block the
// arena did not allocate.
//
// # Thread Safety
//
// An Arena belongs to one goroutine at a time, and so does its whole tree.
// SafeArena wraps a root arena with a mutex for shared use.
//
// # Memory Safety
//
// Arena memory is plain bytes to the garbage collector. Values placed in it
// through the typed helpers must not contain Go pointers, and slices into
// an arena must not be used after the block is released or the arena freed.
package arena
