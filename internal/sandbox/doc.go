/*
Package sandbox provides an in-process browser surface for relayed requests.

# Overview

A Surface is a goja VM dressed as the page the mobile shell would load. It
satisfies the relay's handle contract, so the relay can run without a shell
attached: scripts are injected, executed on the surface's event loop, and the
messages they post come back through a sink.

Each surface has:

  - One event-loop goroutine owning the VM (scripts, timers, network callbacks)
  - An execution budget per loop turn, enforced with VM interrupts
  - A cookie jar shared by every request the page makes
  - A post-message channel at window.<Channel>

# Browser Surface

Page code sees a deliberately small browser:

 1. fetch with credentials modes, Response.text/json/blob/arrayBuffer
 2. XMLHttpRequest, including GET requests that carry a body
 3. FormData and Blob for multipart uploads
 4. atob/btoa, setTimeout/clearTimeout, console, location, navigator

Node-style globals (require, process, module, exports) are removed.

# Usage Example

	surface, err := sandbox.New(sandbox.Config{
		Origin:      "https://api.example.com",
		ExecTimeout: 5 * time.Second,
	}, r.HandleMessage)
	if err != nil {
		return err
	}
	defer surface.Close()

	if err := surface.Load(ctx, "/"); err != nil {
		return err
	}
	r.Bind(surface)
	r.MarkLoaded(true)
*/
package sandbox
