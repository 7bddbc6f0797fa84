// Package persistence saves the appliance inventory between client runs.
//
// The state file is JSON. On startup the last known appliances are
// restored into the registry as unavailable so their values can be shown
// before the cloud reports them again.
package persistence
