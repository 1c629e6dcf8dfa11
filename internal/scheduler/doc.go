// Package scheduler triggers named jobs on cron specs or fixed intervals.
//
// It drives the periodic board cycle and cron-based sources such as reminders.
// Jobs never overlap with themselves: a trigger that fires while the previous
// run is still going is skipped.
package scheduler
