// Package dispatch delivers lifecycle events to every registered hook.
//
// For each event the dispatcher asks its HookSource for all hooks, resolves
// each hook's script through a locator.Locator and hands the hook to an
// Executor on a bounded worker pool. Hooks are independent: one hook's
// failure, crash or lock contention never affects another, and there is no
// ordering between hooks.
//
// Outcomes per hook:
//   - No script for the event -> skipped, no lock taken
//   - Hook locked by another run -> retry, the caller must redeliver
//   - Script ran -> succeeded, failed or error (see package runner)
//
// Every non-skipped result is published to the event hub as
// "hook.run.<outcome>".
package dispatch
