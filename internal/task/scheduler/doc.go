// Package scheduler registers cron and interval schedules and enqueues their
// runs into the task engine. Execution itself happens in engine.Service.
package scheduler
