// Package tfvc synchronizes a build directory with a branch of a
// server-workspace version-control collection by driving the tf command line
// client.
//
// A run converges three independently stale pieces of state: the server-side
// workspace object (a named set of working folders), the local directory, and
// the requested configuration. It does so with strictly sequential tool
// invocations:
//
//  1. probe the tool (missing tool aborts before anything is mutated)
//  2. list workspaces for the collection; create ours or unmap every folder
//     it has mapped locally
//  3. map the branch, cloak configured sub-paths, map extra sub-paths
//  4. decide between an incremental get and a clobber (remove + get)
//
// Every command is either fatal on failure (Abandon) or best-effort
// (Tolerate); the policy is passed explicitly with each Command.
package tfvc
