// Package watch re-applies manifests when they change on disk.
//
// A Watcher turns fsnotify events on the watched files and directories into debounced
// ChangeEvents. A Runner feeds those events into a deduplicating Queue and hands each
// changed file to an ApplyFunc from a fixed pool of workers. A file that changes while
// it is being applied is applied once more after the current apply finishes.
//
// Removing a manifest file never deletes anything from the store; the removal is
// only logged.
package watch
