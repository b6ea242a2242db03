/*
Package ipam assigns and releases host addresses from each overlay network's
CIDR block.

The allocator is a deliberately simple linear scan: overlay subnets run at
/24 to /16 scale, so enumerating host addresses and taking the first free one
is fast enough and trivially correct. What matters is atomicity, not speed -
the scan and the allocation record are committed in a single storage write
transaction, and a per-network mutex keeps exactly one allocation decision in
flight per network. Requests for different networks do not contend.

A caller may suggest an address; it is honored when it lies inside the CIDR,
is neither the network nor the broadcast address, and is still free.
Releasing an address deletes its record, making it immediately reusable;
releasing an unallocated address is a no-op.
*/
package ipam
