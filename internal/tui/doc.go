// Package tui is the terminal view of one watched challenge, built on
// Bubble Tea. [Renderer] forwards polling session updates to the running
// program as messages; [Model] draws them and maps keys to player actions.
package tui
