// throwaway creates and destroys short-lived EC2 instances for test and
// benchmark workloads, then hands back an SSH channel into each machine.
//
// Every resource a session creates (key pair, security group, placement
// group, elastic IP, instance) is tagged with the caller's principal and an
// optional application label, so any later process can discover and reclaim
// it with nothing but AWS credentials: no state file, no database. A new
// session begins by reclaiming whatever a previous crashed run of the same
// scope left behind.
//
// All resources live in a single hardcoded region and availability zone so
// cleanup only ever has to scan one region, and so instances created by one
// session have uniform inter-instance latency (spread placement).
//
// Resource names embed a fresh random suffix per session, so concurrent
// sessions, even under the same principal, never collide.
package throwaway
