// Package fetch implements navigation.Engine without a browser process.
//
// Documents are fetched with resty over a retrying transport (go-retryablehttp),
// guarded per host by a rate limiter and a circuit breaker, decoded to UTF-8
// (x/net/html/charset, chardet) and parsed with goquery. Scripts run against the
// parsed document in the goja sandbox pool.
//
// A load reports NavigationStarting, SourceChanged, ContentLoading,
// DOMContentLoaded and NavigationCompleted in that order. Error statuses and
// transport failures skip straight to a failed NavigationCompleted. A load that
// is superseded or stopped completes with ErrorOperationCanceled and reports
// nothing else afterwards.
package fetch
