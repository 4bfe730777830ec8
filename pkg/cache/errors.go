package cache

import "github.com/edgesim/miniflare/pkg/errs"

var (
	errNotCacheablePartial   = errs.Validation(errs.CodeKeyValidation, "cannot cache a 206 Partial Content response")
	errNotCacheableVaryStar  = errs.Validation(errs.CodeKeyValidation, "cannot cache a response with Vary: *")
	errNotCacheableWebSocket = errs.Validation(errs.CodeKeyValidation, "cannot cache a WebSocket upgrade response")
	errNotCacheableMethod    = errs.Validation(errs.CodeKeyValidation, "cannot cache a response to a non-GET request")
	errNotCacheablePrivate   = errs.Validation(errs.CodeKeyValidation, "cannot cache a private response")
	errNotCacheableNoStore   = errs.Validation(errs.CodeKeyValidation, "cannot cache a no-store response")
	errNotCacheableNoCache   = errs.Validation(errs.CodeKeyValidation, "cannot cache a no-cache response")
	errNotCacheableSetCookie = errs.Validation(errs.CodeKeyValidation, "cannot cache a response with Set-Cookie unless Cache-Control lists private=set-cookie")
	errReservedNamespace     = errs.Validation(errs.CodeKeyValidation, `cache namespace name "default" is reserved; use Default()`)
)
