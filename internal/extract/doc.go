// Package extract turns fetched result pages into Records using the
// declarative item and field selectors of a Target.
package extract
