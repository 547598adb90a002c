/*
Package monitoring provides Prometheus metrics for the navigator.

# Overview

Metrics cover the HTTP surface, the navigation controller (attempt outcomes,
recoveries, reloads, heartbeat failures, stale events, live epoch), engine
operations and the websocket event stream. *Metrics satisfies
navigation.Metrics and is handed to the controller with WithMetrics.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	ctrl := navigation.New(engine, opts, logger).WithMetrics(metrics)
	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics, "fetch", "navigate")
	err := load()
	timer.StopErr(err)

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
