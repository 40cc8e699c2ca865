// Package monitor reconciles a broadcast channel's announcements with its live state.
//
// Each call to Reconciler.Execute loads the channel, classifies the observation
// into a LifecyclePhase, updates activity segments, fans content out to every
// subscription through a Platform, and commits the aggregate once.
package monitor
