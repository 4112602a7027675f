package muc

import "fmt"

// ErrNotAvailable is returned (wrapped) when a facade call can't be carried
// out in the channel's current state: adding self while already joining or
// joined, inviting a handle that is already current or remote-pending,
// removing a handle that isn't a current member, providing a password with
// no challenge outstanding, or providing a second password while one is
// still pending.
var ErrNotAvailable = fmt.Errorf("not available")

// ErrInvalidHandle is returned (wrapped) when a handle passed to a facade
// method has no known name in the registry.
var ErrInvalidHandle = fmt.Errorf("invalid handle")
