// Package chrome implements navigation.Engine on a real Chrome tab driven
// through go-rod.
//
// DevTools events map onto engine events:
//
//	Page.frameStartedLoading  -> NavigationStarting
//	Page.frameNavigated       -> SourceChanged, ContentLoading
//	Page.domContentEventFired -> DOMContentLoaded
//	Page.loadEventFired       -> NavigationCompleted (failed when the document status is >= 400)
//	Page.navigate errorText   -> NavigationCompleted with the net::ERR_* reason classified
//
// Chrome's own error pages are hidden from subscribers.
package chrome
