package context

type contextKey string

// Params carries httprouter path parameters through the request context.
const Params = contextKey("params")
