// Package auth provides API key authentication middleware for the HTTP
// surface. With auth disabled in config the middleware is a pass-through.
package auth
