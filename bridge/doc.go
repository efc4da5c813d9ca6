// Package bridge persists and restores the tracker's essential state across
// process suspension, so a host that kills and restarts the tracking task
// resumes a consistent sector run. Snapshots and the bounded run history are
// kept in a local SQLite database.
package bridge
