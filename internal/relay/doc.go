/*
Package relay executes backend API requests inside an embedded browser sandbox
and correlates the asynchronous responses back to their callers.

# Overview

Some backends only accept requests carrying the cookies and origin of a page
loaded in an embedded web view. The relay compiles each request into a
self-contained script, injects it into that page, and waits for the page to
post back exactly one message tagged with the request's correlation id.

# Components

  - Compiler: payload to Descriptor to script, with transport selection
  - Session: the single live sandbox handle and its loaded/ready flags
  - correlator: pending requests keyed by id plus the pre-readiness queue
  - Router: HandleMessage dispatches inbound messages by type
  - Normalize: maps raw backend bodies onto the Envelope shape

# Usage

	r, err := relay.New(relay.DefaultConfig(), relay.WithLogger(log))
	if err != nil {
		return err
	}
	r.Bind(surface)
	r.MarkLoaded(true)

	env, err := r.Submit(ctx, relay.Payload{Method: "GET", Path: "/profile"})

# Readiness

	unbound --Bind--> bound --MarkLoaded(true)--> loaded --bridge-ready--> ready
	                    ^                            |
	                    +------MarkLoaded(false)-----+

Requests submitted before the page loads wait up to LoadTimeout. Requests
that find the page loaded but the bridge not yet ready are queued and
replayed in submission order when bridge-ready arrives.
*/
package relay
