/*
Package sandbox runs page scripts for the fetch engine in isolated goja runtimes.

# Overview

Each Runtime is a goja VM with require, process, module and exports removed,
timers stubbed out and console output captured. A run is interrupted when the
configured timeout elapses or the caller's context is done.

# DOM Proxy

A DOM wraps the goquery document of the loaded page. Scripts see a minimal
browser surface over it:

  - document.querySelector / querySelectorAll / getElementById / getElementsByTagName
  - element tagName, id, className, textContent, getAttribute, setAttribute, remove
  - pause on video and audio elements
  - window.stop(), forwarded to the engine so it can abort an in-flight load

Changes made by a run are returned in Result.Changes.

# Pooling

Pool keeps a fixed number of runtimes and resets each one before reuse, so no
state leaks between scripts. Stats reports occupancy alongside run, failure
and exhaustion counters; the server serves it on /status.

	pool, err := sandbox.NewPool(sandbox.DefaultConfig(), 4)
	if err != nil {
		return err
	}
	defer pool.Close()

	result, err := pool.Execute(ctx, "document.querySelectorAll('video').length", dom)
*/
package sandbox
