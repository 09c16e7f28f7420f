// Package notify handles the agent's background events: sync requests
// triggered by the page, push messages that raise a notification, and
// notification clicks that bring the blog home page to the front.
package notify
