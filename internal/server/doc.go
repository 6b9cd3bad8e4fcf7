// Package server exposes the admin operations as a JSON API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// [Logging] tags each request with an X-Request-ID and [Recover] turns panics into 500 responses.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally; routes are "METHOD /path" patterns.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
//
// [APIHandler] is the only implementation. It owns an inner mux with the endpoints:
//
//	GET    /health
//	GET    /api/stats
//	GET    /api/accounts              ?active=true|false
//	POST   /api/accounts              ?verify=true
//	POST   /api/accounts/import       text body, one username:password per line
//	POST   /api/accounts/check
//	DELETE /api/accounts/{id}
//	POST   /api/accounts/{id}/challenge
//	POST   /api/accounts/{id}/verify  {"code": "..."}
//	PUT    /api/accounts/{id}/proxy   {"proxy_id": "..."}
//	GET    /api/proxies
//	POST   /api/proxies               {"url": "..."}
//	DELETE /api/proxies/{id}
//	GET    /api/tasks                 ?status=&account=&limit=
//	POST   /api/tasks
//	GET    /api/tasks/{id}
//	DELETE /api/tasks/{id}
//	POST   /api/tasks/{id}/run
//	POST   /api/tasks/{id}/reset
//	PUT    /api/tasks/{id}/schedule
//
// Errors are returned as {"error": "..."} with the status chosen by [StatusFor]:
// missing entities are 404, state conflicts 409 and malformed input 400.
//
// # Lifecycle
//
// [Server.Start] listens until its context is cancelled and then shuts down gracefully.
package server
