/*
Package billingsdk is the client side of the subscription billing backend. It owns the
authenticated session and keeps every place the session is persisted in agreement.

# Overview

The package is organized around three types:

  - SDKClient: unauthenticated calls (login, refresh, logout notification, registration,
    password reset, health)
  - Session: the single source of truth for the access token, refresh token, user
    identity, customer id and session id
  - Billing: plans, subscriptions, invoices, payments, notifications and usage, all sent
    through the session's authenticated HTTP client

Create a client, then a session:

	client := billingsdk.NewSDKClient("https://billing.example.com", logger)
	session, err := billingsdk.NewSession(ctx, billingsdk.SessionOptions{
		Client: client,
		Store:  store, // any Channel: sqlite, redis, memory
	})

	snap, err := session.Login(ctx, billingsdk.Credentials{Username: "ada", Password: "secret"})

NewSession restores whatever valid state the store holds, so a process that restarts is
still logged in without a network call.

# Persistence Channels

Session state is written to two Channels: a durable key-value store and a cookie channel
scoped to the backend origin. Keys:

  - key-value: access_token, refresh_token, token_expiry (epoch ms), currentUser (JSON),
    customer_id, sessionId
  - cookie: customer_id, access_token, jwt, Authorization ("Bearer <token>"),
    refresh_token

Wrap a channel in a SealedChannel to encrypt token values at rest. Logout clears every key
in every channel.

# Auth-State Broadcast

Subscribers registered with Session.Subscribe receive true after login, external token
injection and user updates, and false after logout or when an expired session is cleared.
Delivery is synchronous and in subscription order:

	unsubscribe := session.Subscribe(func(loggedIn bool) {
		logger.Info("auth state changed", "logged_in", loggedIn)
	})
	defer unsubscribe()

# Authenticated Requests

Session.HTTPClient returns a client whose Transport attaches the bearer token to every
request except the public auth endpoints. A 401 triggers one refresh, shared by every
request that failed concurrently, and the request is replayed once with the new token.
A replay that is rejected again ends the session.

# Error Handling

Auth operations return *AuthError. Use errors.Is with the kind sentinels:

	_, err := session.Login(ctx, creds)
	switch {
	case errors.Is(err, billingsdk.ErrUnauthorized):
		// wrong credentials
	case errors.Is(err, billingsdk.ErrUnreachable):
		// backend down; the session is untouched
	case errors.Is(err, billingsdk.ErrSessionExpired):
		// refresh failed, even for lack of a network; the session has been cleared
	}

Other backend failures are *APIError. An unreachable backend does not log the user out
of a login attempt or a plain request, but a refresh that cannot complete always does.

# Thread Safety

Session, Billing and every Channel in this package are safe for concurrent use. Network
calls and broadcasts happen outside the session lock, so subscribers may call back into
the session.
*/
package billingsdk
